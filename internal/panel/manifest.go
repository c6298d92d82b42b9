package panel

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest describes a reference panel for fitting: where the panel VCF and
// the population assignments live, plus plot styling.
type Manifest struct {
	VCFPath         string            `yaml:"vcf"`
	PopulationsPath string            `yaml:"populations"`
	Components      int               `yaml:"components"`
	Colors          map[string]string `yaml:"colors"`
}

// DefaultColors covers the five 1000 Genomes super-populations plus the
// Unknown bucket used for unlabelled study samples.
var DefaultColors = map[string]string{
	"AFR":     "#E8713A",
	"AMR":     "#F2B134",
	"EAS":     "#3A9E5F",
	"EUR":     "#3A6EE8",
	"SAS":     "#9A4EE8",
	"Unknown": "#D0312D",
}

func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Failed to read panel manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("Failed to parse panel manifest: %w", err)
	}
	if m.VCFPath == "" {
		return nil, fmt.Errorf("panel manifest is missing vcf path")
	}
	if m.PopulationsPath == "" {
		return nil, fmt.Errorf("panel manifest is missing populations path")
	}
	if m.Components == 0 {
		m.Components = 3
	}
	if m.Components < 2 {
		return nil, fmt.Errorf("panel manifest components must be >= 2, got %d", m.Components)
	}
	if m.Colors == nil {
		m.Colors = map[string]string{}
	}
	for k, v := range DefaultColors {
		if _, ok := m.Colors[k]; !ok {
			m.Colors[k] = v
		}
	}
	return &m, nil
}
