package pca

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/genoplot/genoplot-backend/internal/genotype"
	"github.com/genoplot/genoplot-backend/internal/vcf"
)

// Fit runs a mean-centered (unscaled) PCA over a panel dosage matrix and
// returns the fitted model plus the panel's own scores, one row per panel
// sample, in the matrix's sample order.
//
// Missing panel dosages are imputed with the per-site mean of the observed
// calls before centering, so an imputed cell contributes zero variance.
func Fit(m *genotype.Matrix, k int) (*Model, [][]float64, error) {
	n := m.NumSamples()
	p := m.NumSites()
	if n < 2 {
		return nil, nil, fmt.Errorf("need at least 2 panel samples, got %d", n)
	}
	if k < 1 {
		return nil, nil, fmt.Errorf("component count must be >= 1, got %d", k)
	}
	if k > n || k > p {
		return nil, nil, fmt.Errorf("component count %d exceeds rank bound min(%d, %d)", k, n, p)
	}

	siteMeans := make([]float64, p)
	for j := 0; j < p; j++ {
		sum, count := 0.0, 0
		for i := 0; i < n; i++ {
			if d := m.Data[i][j]; d != vcf.DosageMissing {
				sum += d
				count++
			}
		}
		if count > 0 {
			siteMeans[j] = sum / float64(count)
		}
	}

	centered := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			d := m.Data[i][j]
			if d == vcf.DosageMissing {
				d = siteMeans[j]
			}
			centered.Set(i, j, d-siteMeans[j])
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThin); !ok {
		return nil, nil, fmt.Errorf("SVD failed to converge")
	}

	var v mat.Dense
	svd.VTo(&v)
	singular := svd.Values(nil)

	// components, row per component
	components := make([][]float64, k)
	for c := 0; c < k; c++ {
		components[c] = make([]float64, p)
		for j := 0; j < p; j++ {
			components[c][j] = v.At(j, c)
		}
	}
	fixSigns(components)

	variances := make([]float64, len(singular))
	for i, s := range singular {
		variances[i] = s * s / float64(n-1)
	}
	total := floats.Sum(variances)
	explained := make([]float64, k)
	for c := 0; c < k; c++ {
		if total > 0 {
			explained[c] = variances[c] / total
		}
	}

	model := &Model{
		K:                 k,
		SiteKeys:          append([]string(nil), m.SiteKeys...),
		SiteMeans:         siteMeans,
		Components:        components,
		ExplainedVariance: explained,
	}
	model.stamp()

	scores := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, p)
		mat.Row(row, i, centered)
		scores[i] = project(row, components)
	}
	return model, scores, nil
}

// Transform projects one aligned dosage vector into PC space.
func (m *Model) Transform(vec []float64) ([]float64, error) {
	if len(vec) != len(m.SiteMeans) {
		return nil, fmt.Errorf("vector length %d does not match model sites %d", len(vec), len(m.SiteMeans))
	}
	centered := make([]float64, len(vec))
	for j := range vec {
		centered[j] = vec[j] - m.SiteMeans[j]
	}
	return project(centered, m.Components), nil
}

func project(centered []float64, components [][]float64) []float64 {
	out := make([]float64, len(components))
	for c, comp := range components {
		out[c] = floats.Dot(centered, comp)
	}
	return out
}

// fixSigns forces the largest-magnitude loading of each component positive,
// so refits of the same panel produce identical coordinates.
func fixSigns(components [][]float64) {
	for _, comp := range components {
		maxAbs, maxVal := 0.0, 0.0
		for _, x := range comp {
			abs := x
			if abs < 0 {
				abs = -abs
			}
			if abs > maxAbs {
				maxAbs = abs
				maxVal = x
			}
		}
		if maxVal < 0 {
			floats.Scale(-1, comp)
		}
	}
}
