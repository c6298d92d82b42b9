package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/genoplot/genoplot-backend/internal/genotype"
	"github.com/genoplot/genoplot-backend/internal/logger"
	"github.com/genoplot/genoplot-backend/internal/pca"
	"github.com/genoplot/genoplot-backend/internal/repos"
	"github.com/genoplot/genoplot-backend/internal/types"
	"github.com/genoplot/genoplot-backend/internal/vcf"
)

var (
	ErrNoModel         = errors.New("no PCA model loaded")
	ErrTooMuchMissing  = errors.New("too many sites missing against the model")
	ErrNoSitesMatched  = errors.New("no upload sites matched the model")
)

// ParseError wraps VCF-level failures so handlers can answer 400 instead of 500.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

type ProjectionService interface {
	Project(ctx context.Context, sample *types.Sample) (*types.Projection, error)
	ReprojectStuck(ctx context.Context) error
	NearestPopulations(coords []float64) []types.PopulationDistance
	Model() *pca.Model
}

type popCentroid struct {
	population      string
	superPopulation string
	coords          []float64
}

type projectionService struct {
	db              *gorm.DB
	log             *logger.Logger
	model           *pca.Model
	maxMissingness  float64
	sampleRepo      repos.SampleRepo
	projectionRepo  repos.ProjectionRepo
	storageService  StorageService
	centroids       []popCentroid
}

func NewProjectionService(
	db *gorm.DB,
	baseLog *logger.Logger,
	model *pca.Model,
	maxMissingness float64,
	sampleRepo repos.SampleRepo,
	projectionRepo repos.ProjectionRepo,
	storageService StorageService,
) ProjectionService {
	serviceLog := baseLog.With("service", "ProjectionService")
	ps := &projectionService{
		db:             db,
		log:            serviceLog,
		model:          model,
		maxMissingness: maxMissingness,
		sampleRepo:     sampleRepo,
		projectionRepo: projectionRepo,
		storageService: storageService,
	}
	if model != nil {
		ps.centroids = buildCentroids(model)
		serviceLog.Info("Population centroids ready", "populations", len(ps.centroids), "model_version", model.Version)
	}
	return ps
}

func (ps *projectionService) Model() *pca.Model {
	return ps.model
}

// Project runs the whole pipeline for one uploaded sample: parse the stored
// VCF, align to the model's sites, impute, transform, rank populations, and
// persist the result. Failures are written back onto the sample row so a
// later GET explains what went wrong.
func (ps *projectionService) Project(ctx context.Context, sample *types.Sample) (*types.Projection, error) {
	ctx, span := otel.Tracer("genoplot/projection").Start(ctx, "ProjectionService.Project")
	defer span.End()
	span.SetAttributes(attribute.String("sample.id", sample.ID.String()))

	projection, err := ps.projectAndRecord(ctx, sample)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}
	return projection, nil
}

func (ps *projectionService) projectAndRecord(ctx context.Context, sample *types.Sample) (*types.Projection, error) {
	if ps.model == nil {
		if uErr := ps.sampleRepo.UpdateFields(ctx, nil, sample.ID, map[string]interface{}{
			"status":     types.SampleStatusFailed,
			"error":      ErrNoModel.Error(),
			"updated_at": time.Now(),
		}); uErr != nil {
			ps.log.Error("failed to mark sample as failed", "sample_id", sample.ID, "error", uErr)
		}
		return nil, ErrNoModel
	}

	if err := ps.sampleRepo.UpdateFields(ctx, nil, sample.ID, map[string]interface{}{
		"status":     types.SampleStatusProcessing,
		"updated_at": time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("Failed to mark sample processing: %w", err)
	}

	projection, err := ps.project(ctx, sample)
	if err != nil {
		ps.log.Warn("Projection failed", "sample_id", sample.ID, "error", err)
		if uErr := ps.sampleRepo.UpdateFields(ctx, nil, sample.ID, map[string]interface{}{
			"status":     types.SampleStatusFailed,
			"error":      err.Error(),
			"updated_at": time.Now(),
		}); uErr != nil {
			ps.log.Error("failed to mark sample as failed", "sample_id", sample.ID, "error", uErr)
		}
		return nil, err
	}
	return projection, nil
}

func (ps *projectionService) project(ctx context.Context, sample *types.Sample) (*types.Projection, error) {
	file, err := ps.storageService.Open(sample.StorageKey)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader, err := vcf.NewReader(file)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	sampleName := reader.SampleNames()[0]
	if len(reader.SampleNames()) > 1 {
		ps.log.Info("Upload carries multiple sample columns, using the first",
			"sample_id", sample.ID, "columns", len(reader.SampleNames()), "using", sampleName)
	}

	dosages, sitesInFile, err := genotype.SampleDosages(reader, 0)
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	vec, stats, err := genotype.Align(dosages, ps.model.SiteKeys, ps.model.SiteMeans)
	if err != nil {
		return nil, err
	}
	if stats.Matched == 0 {
		return nil, ErrNoSitesMatched
	}
	if stats.Missingness > ps.maxMissingness {
		return nil, fmt.Errorf("%w: %.1f%% of %d model sites (ceiling %.1f%%)",
			ErrTooMuchMissing, stats.Missingness*100, len(ps.model.SiteKeys), ps.maxMissingness*100)
	}

	coords, err := ps.model.Transform(vec)
	if err != nil {
		return nil, err
	}
	nearest := ps.NearestPopulations(coords)

	coordsJSON, err := json.Marshal(coords)
	if err != nil {
		return nil, fmt.Errorf("Failed to marshal coordinates: %w", err)
	}
	nearestJSON, err := json.Marshal(nearest)
	if err != nil {
		return nil, fmt.Errorf("Failed to marshal nearest populations: %w", err)
	}

	projection := &types.Projection{
		ID:           uuid.New(),
		SampleID:     sample.ID,
		ModelVersion: ps.model.Version,
		Coordinates:  datatypes.JSON(coordsJSON),
		NearestPops:  datatypes.JSON(nearestJSON),
	}

	err = ps.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := ps.projectionRepo.Upsert(ctx, tx, projection); err != nil {
			return err
		}
		return ps.sampleRepo.UpdateFields(ctx, tx, sample.ID, map[string]interface{}{
			"status":        types.SampleStatusProjected,
			"sample_name":   sampleName,
			"sites_in_file": sitesInFile,
			"sites_matched": stats.Matched,
			"sites_imputed": stats.Imputed,
			"sites_skipped": reader.SkippedSites(),
			"missingness":   stats.Missingness,
			"error":         "",
			"updated_at":    time.Now(),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("Failed to persist projection: %w", err)
	}

	ps.log.Info("Sample projected",
		"sample_id", sample.ID,
		"sample_name", sampleName,
		"matched", stats.Matched,
		"imputed", stats.Imputed,
		"dropped", stats.Dropped,
		"pc1", coords[0],
	)
	return projection, nil
}

// ReprojectStuck picks up samples left in processing by a previous run
// (crash mid-pipeline) and runs them again. Called once at boot.
func (ps *projectionService) ReprojectStuck(ctx context.Context) error {
	if ps.model == nil {
		return nil
	}
	stuck, err := ps.sampleRepo.GetByStatus(ctx, nil, types.SampleStatusProcessing)
	if err != nil {
		return err
	}
	if len(stuck) == 0 {
		return nil
	}
	ps.log.Info("Reprojecting samples stuck in processing", "count", len(stuck))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, sample := range stuck {
		sample := sample
		g.Go(func() error {
			if _, err := ps.Project(gctx, sample); err != nil {
				// already recorded on the sample row, don't fail the boot
				ps.log.Warn("reproject failed", "sample_id", sample.ID, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// NearestPopulations ranks panel populations by Euclidean distance between
// the sample's coordinates and each population centroid in PC space.
// Weights are normalized inverse distances, summing to 1.
func (ps *projectionService) NearestPopulations(coords []float64) []types.PopulationDistance {
	if len(ps.centroids) == 0 {
		return nil
	}

	const eps = 1e-9
	results := make([]types.PopulationDistance, 0, len(ps.centroids))
	weightTotal := 0.0
	for _, c := range ps.centroids {
		d := euclidean(coords, c.coords)
		w := 1.0 / (d + eps)
		weightTotal += w
		results = append(results, types.PopulationDistance{
			Population:      c.population,
			SuperPopulation: c.superPopulation,
			Distance:        d,
			Weight:          w,
		})
	}
	for i := range results {
		results[i].Weight /= weightTotal
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	return results
}

func euclidean(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func buildCentroids(model *pca.Model) []popCentroid {
	sums := map[string][]float64{}
	counts := map[string]int{}
	supers := map[string]string{}

	for _, p := range model.Panel {
		if p.Population == types.PopulationUnknown {
			continue
		}
		if _, ok := sums[p.Population]; !ok {
			sums[p.Population] = make([]float64, model.K)
			supers[p.Population] = p.SuperPopulation
		}
		for i := 0; i < model.K && i < len(p.Coords); i++ {
			sums[p.Population][i] += p.Coords[i]
		}
		counts[p.Population]++
	}

	centroids := make([]popCentroid, 0, len(sums))
	for pop, sum := range sums {
		coords := make([]float64, len(sum))
		for i := range sum {
			coords[i] = sum[i] / float64(counts[pop])
		}
		centroids = append(centroids, popCentroid{
			population:      pop,
			superPopulation: supers[pop],
			coords:          coords,
		})
	}
	sort.Slice(centroids, func(i, j int) bool {
		return centroids[i].population < centroids[j].population
	})
	return centroids
}
