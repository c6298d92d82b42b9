package genotype

import (
	"fmt"

	"github.com/genoplot/genoplot-backend/internal/vcf"
)

type AlignStats struct {
	Matched     int     `json:"matched"`
	Imputed     int     `json:"imputed"`
	Dropped     int     `json:"dropped"`
	Missingness float64 `json:"missingness"`
}

// Align orders an uploaded sample's dosages by the model's site list.
// Model sites absent from the upload (or explicitly missing in it) are
// imputed with the panel mean dosage for that site; upload sites the model
// never saw are dropped. Order of the input map is irrelevant.
func Align(dosages map[string]float64, siteKeys []string, siteMeans []float64) ([]float64, AlignStats, error) {
	if len(siteKeys) != len(siteMeans) {
		return nil, AlignStats{}, fmt.Errorf("model site keys (%d) and means (%d) disagree", len(siteKeys), len(siteMeans))
	}
	if len(siteKeys) == 0 {
		return nil, AlignStats{}, fmt.Errorf("model has no sites")
	}

	vec := make([]float64, len(siteKeys))
	stats := AlignStats{}
	seen := make(map[string]bool, len(siteKeys))

	for i, key := range siteKeys {
		seen[key] = true
		d, ok := dosages[key]
		if !ok || d == vcf.DosageMissing {
			vec[i] = siteMeans[i]
			stats.Imputed++
			continue
		}
		vec[i] = d
		stats.Matched++
	}

	for key := range dosages {
		if !seen[key] {
			stats.Dropped++
		}
	}

	stats.Missingness = float64(stats.Imputed) / float64(len(siteKeys))
	return vec, stats, nil
}
