package pca

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// PanelPoint is a reference individual's projection, embedded in the model so
// the server can plot the panel without refitting (and without a DB, in the
// CLI tools).
type PanelPoint struct {
	SampleID        string    `json:"sample_id"`
	Population      string    `json:"population"`
	SuperPopulation string    `json:"super_population"`
	Coords          []float64 `json:"coords"`
}

// Model is the persisted PCA document written by pcafit and loaded by the
// server at boot.
type Model struct {
	Version           string       `json:"version"`
	FittedAt          time.Time    `json:"fitted_at"`
	K                 int          `json:"k"`
	SiteKeys          []string     `json:"site_keys"`
	SiteMeans         []float64    `json:"site_means"`
	Components        [][]float64  `json:"components"`
	ExplainedVariance []float64    `json:"explained_variance"`
	Panel             []PanelPoint `json:"panel,omitempty"`
}

func (m *Model) stamp() {
	m.FittedAt = time.Now().UTC()
	h := sha256.New()
	h.Write([]byte(strings.Join(m.SiteKeys, "\n")))
	h.Write([]byte(m.FittedAt.Format(time.RFC3339Nano)))
	m.Version = hex.EncodeToString(h.Sum(nil))[:12]
}

func (m *Model) Validate() error {
	if m.K < 1 {
		return fmt.Errorf("model has no components")
	}
	if len(m.SiteKeys) == 0 {
		return fmt.Errorf("model has no sites")
	}
	if len(m.SiteMeans) != len(m.SiteKeys) {
		return fmt.Errorf("model means (%d) and sites (%d) disagree", len(m.SiteMeans), len(m.SiteKeys))
	}
	if len(m.Components) != m.K {
		return fmt.Errorf("model k=%d but carries %d components", m.K, len(m.Components))
	}
	for i, comp := range m.Components {
		if len(comp) != len(m.SiteKeys) {
			return fmt.Errorf("component %d has %d loadings for %d sites", i+1, len(comp), len(m.SiteKeys))
		}
	}
	for _, p := range m.Panel {
		if len(p.Coords) != m.K {
			return fmt.Errorf("panel point %s has %d coords for k=%d", p.SampleID, len(p.Coords), m.K)
		}
	}
	return nil
}

func (m *Model) Save(path string) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("Failed to marshal model: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("Failed to write model: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("Failed to move model into place: %w", err)
	}
	return nil
}

func Load(path string) (*Model, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Failed to read model file: %w", err)
	}
	var m Model
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("Failed to parse model file: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("model file %s is invalid: %w", path, err)
	}
	return &m, nil
}
