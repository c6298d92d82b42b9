package types

import (
  "time"
  "github.com/google/uuid"
  "gorm.io/datatypes"
  "gorm.io/gorm"
)

// Sample lifecycle: uploaded -> processing -> projected | failed
const (
  SampleStatusUploaded   = "uploaded"
  SampleStatusProcessing = "processing"
  SampleStatusProjected  = "projected"
  SampleStatusFailed     = "failed"
)

type Sample struct {
  ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
  OriginalName    string          `gorm:"column:original_name;not null" json:"original_name"`
  SampleName      string          `gorm:"column:sample_name" json:"sample_name"`
  SizeBytes       int64           `gorm:"column:size_bytes" json:"size_bytes"`
  StorageKey      string          `gorm:"column:storage_key;not null" json:"storage_key"`
  Status          string          `gorm:"column:status;not null;default:'uploaded'" json:"status"`
  SitesInFile     int             `gorm:"column:sites_in_file" json:"sites_in_file"`
  SitesMatched    int             `gorm:"column:sites_matched" json:"sites_matched"`
  SitesImputed    int             `gorm:"column:sites_imputed" json:"sites_imputed"`
  SitesSkipped    int             `gorm:"column:sites_skipped" json:"sites_skipped"`
  Missingness     float64         `gorm:"column:missingness" json:"missingness"`
  Error           string          `gorm:"column:error" json:"error,omitempty"`
  CreatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
  UpdatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
  DeletedAt       gorm.DeletedAt  `gorm:"index" json:"deleted_at,omitempty"`
}

func (Sample) TableName() string {
  return "sample"
}

type Projection struct {
  ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
  SampleID        uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex" json:"sample_id"`
  Sample          *Sample         `gorm:"constraint:OnDelete:CASCADE;foreignKey:SampleID;references:ID" json:"sample,omitempty"`
  ModelVersion    string          `gorm:"column:model_version;not null" json:"model_version"`
  Coordinates     datatypes.JSON  `gorm:"column:coordinates" json:"coordinates"`
  NearestPops     datatypes.JSON  `gorm:"column:nearest_pops" json:"nearest_pops"`
  CreatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
  UpdatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Projection) TableName() string {
  return "projection"
}

// PanelMember is one reference individual from the 1000 Genomes style panel.
// Members labelled "Unknown" are the study samples without a population call.
type PanelMember struct {
  ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
  SampleID        string          `gorm:"column:panel_sample_id;not null;uniqueIndex" json:"panel_sample_id"`
  Population      string          `gorm:"column:population;not null;index" json:"population"`
  SuperPopulation string          `gorm:"column:super_population;index" json:"super_population"`
  ModelVersion    string          `gorm:"column:model_version;not null" json:"model_version"`
  Coordinates     datatypes.JSON  `gorm:"column:coordinates" json:"coordinates"`
  CreatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
  UpdatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (PanelMember) TableName() string {
  return "panel_member"
}

const PopulationUnknown = "Unknown"

// PopulationDistance is what gets serialized into Projection.NearestPops.
type PopulationDistance struct {
  Population      string    `json:"population"`
  SuperPopulation string    `json:"super_population"`
  Distance        float64   `json:"distance"`
  Weight          float64   `json:"weight"`
}
