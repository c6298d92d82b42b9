package panel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/genoplot/genoplot-backend/internal/genotype"
	"github.com/genoplot/genoplot-backend/internal/logger"
	"github.com/genoplot/genoplot-backend/internal/pca"
	"github.com/genoplot/genoplot-backend/internal/types"
	"github.com/genoplot/genoplot-backend/internal/vcf"
)

type Label struct {
	Population      string
	SuperPopulation string
}

// LoadPopulations parses a 1000 Genomes style sample sheet: tab separated,
// header line, columns sample / pop / super_pop (extra columns ignored).
func LoadPopulations(r io.Reader) (map[string]Label, error) {
	scanner := bufio.NewScanner(r)
	labels := make(map[string]Label)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r\n")
		if text == "" {
			continue
		}
		cols := strings.Split(text, "\t")
		if line == 1 && strings.EqualFold(cols[0], "sample") {
			continue
		}
		if len(cols) < 2 {
			return nil, fmt.Errorf("population sheet line %d has %d columns, want at least 2", line, len(cols))
		}
		l := Label{Population: cols[1]}
		if len(cols) >= 3 {
			l.SuperPopulation = cols[2]
		}
		labels[cols[0]] = l
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("Failed to scan population sheet: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("population sheet is empty")
	}
	return labels, nil
}

// Fit loads the panel VCF and the population sheet concurrently, fits the
// PCA model and embeds every panel member's projection. Panel samples the
// sheet does not mention are kept as Unknown, which is how the study set of
// unlabelled individuals rides along with the reference.
func Fit(ctx context.Context, log *logger.Logger, m *Manifest) (*pca.Model, error) {
	fitLog := log.With("component", "PanelFit")

	var matrix *genotype.Matrix
	var labels map[string]Label

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		f, err := os.Open(m.VCFPath)
		if err != nil {
			return fmt.Errorf("Failed to open panel VCF: %w", err)
		}
		defer f.Close()
		reader, err := vcf.NewReader(f)
		if err != nil {
			return err
		}
		matrix, err = genotype.ReadMatrix(reader)
		if err != nil {
			return err
		}
		fitLog.Info("Panel VCF loaded", "samples", matrix.NumSamples(), "sites", matrix.NumSites(), "skipped_sites", reader.SkippedSites())
		return nil
	})
	g.Go(func() error {
		f, err := os.Open(m.PopulationsPath)
		if err != nil {
			return fmt.Errorf("Failed to open population sheet: %w", err)
		}
		defer f.Close()
		labels, err = LoadPopulations(f)
		if err != nil {
			return err
		}
		fitLog.Info("Population sheet loaded", "labelled_samples", len(labels))
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	model, scores, err := pca.Fit(matrix, m.Components)
	if err != nil {
		return nil, err
	}

	unlabelled := 0
	model.Panel = make([]pca.PanelPoint, 0, matrix.NumSamples())
	for i, name := range matrix.SampleNames {
		label, ok := labels[name]
		if !ok {
			label = Label{Population: types.PopulationUnknown, SuperPopulation: types.PopulationUnknown}
			unlabelled++
		}
		model.Panel = append(model.Panel, pca.PanelPoint{
			SampleID:        name,
			Population:      label.Population,
			SuperPopulation: label.SuperPopulation,
			Coords:          scores[i],
		})
	}
	if unlabelled > 0 {
		fitLog.Info("Panel samples without a population label kept as Unknown", "count", unlabelled)
	}

	fitLog.Info("Panel fit complete",
		"version", model.Version,
		"components", model.K,
		"explained_variance", model.ExplainedVariance,
	)
	return model, nil
}
