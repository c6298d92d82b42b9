package genotype

import (
	"fmt"
	"io"

	"github.com/genoplot/genoplot-backend/internal/vcf"
)

// Matrix is a dense samples x sites dosage matrix read out of a VCF.
type Matrix struct {
	SampleNames []string
	SiteKeys    []string
	Data        [][]float64 // row per sample, column per site
}

func (m *Matrix) NumSamples() int { return len(m.SampleNames) }
func (m *Matrix) NumSites() int   { return len(m.SiteKeys) }

// ReadMatrix drains a VCF reader into a matrix. Intended for panel fitting,
// where the whole reference set has to be in memory anyway.
func ReadMatrix(r *vcf.Reader) (*Matrix, error) {
	names := r.SampleNames()
	m := &Matrix{
		SampleNames: names,
		Data:        make([][]float64, len(names)),
	}

	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec.Dosages) != len(names) {
			return nil, fmt.Errorf("record %s has %d genotypes for %d samples", rec.Site.Key(), len(rec.Dosages), len(names))
		}
		m.SiteKeys = append(m.SiteKeys, rec.Site.Key())
		for i, d := range rec.Dosages {
			m.Data[i] = append(m.Data[i], d)
		}
	}

	if len(m.SiteKeys) == 0 {
		return nil, fmt.Errorf("VCF contains no usable biallelic sites")
	}
	return m, nil
}

// SampleDosages reads a single sample's dosages keyed by site. Uploads carry
// one genotype column; sampleIndex selects it when there are several.
func SampleDosages(r *vcf.Reader, sampleIndex int) (map[string]float64, int, error) {
	if sampleIndex < 0 || sampleIndex >= len(r.SampleNames()) {
		return nil, 0, fmt.Errorf("sample index %d out of range (%d samples)", sampleIndex, len(r.SampleNames()))
	}

	dosages := make(map[string]float64)
	sites := 0
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, err
		}
		sites++
		dosages[rec.Site.Key()] = rec.Dosages[sampleIndex]
	}
	if sites == 0 {
		return nil, 0, fmt.Errorf("VCF contains no usable biallelic sites")
	}
	return dosages, sites, nil
}
