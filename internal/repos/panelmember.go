package repos

import (
  "context"
  "gorm.io/gorm"
  "github.com/genoplot/genoplot-backend/internal/logger"
  "github.com/genoplot/genoplot-backend/internal/types"
)

type PanelMemberRepo interface {
  ReplaceAll(ctx context.Context, tx *gorm.DB, members []*types.PanelMember) error
  GetAll(ctx context.Context, tx *gorm.DB) ([]*types.PanelMember, error)
  GetByPopulations(ctx context.Context, tx *gorm.DB, populations []string) ([]*types.PanelMember, error)
  CountByPopulation(ctx context.Context, tx *gorm.DB) (map[string]int64, error)
}

type panelMemberRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewPanelMemberRepo(db *gorm.DB, baseLog *logger.Logger) PanelMemberRepo {
  repoLog := baseLog.With("repo", "PanelMemberRepo")
  return &panelMemberRepo{db: db, log: repoLog}
}

// ReplaceAll swaps the stored panel for the one embedded in a freshly loaded
// model. Runs in its own transaction when tx is nil.
func (r *panelMemberRepo) ReplaceAll(ctx context.Context, tx *gorm.DB, members []*types.PanelMember) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }

  return transaction.WithContext(ctx).Transaction(func(inner *gorm.DB) error {
    if err := inner.
      Unscoped().
      Where("1 = 1").
      Delete(&types.PanelMember{}).Error; err != nil {
      return err
    }
    if len(members) == 0 {
      return nil
    }
    // Insert in chunks, panels run to a few thousand rows
    return inner.CreateInBatches(&members, 500).Error
  })
}

func (r *panelMemberRepo) GetAll(ctx context.Context, tx *gorm.DB) ([]*types.PanelMember, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }

  var results []*types.PanelMember
  if err := transaction.WithContext(ctx).
    Order("panel_sample_id").
    Find(&results).Error; err != nil {
    return nil, err
  }
  return results, nil
}

func (r *panelMemberRepo) GetByPopulations(ctx context.Context, tx *gorm.DB, populations []string) ([]*types.PanelMember, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }

  var results []*types.PanelMember
  if len(populations) == 0 {
    return results, nil
  }

  if err := transaction.WithContext(ctx).
    Where("population IN ?", populations).
    Find(&results).Error; err != nil {
    return nil, err
  }
  return results, nil
}

func (r *panelMemberRepo) CountByPopulation(ctx context.Context, tx *gorm.DB) (map[string]int64, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }

  type row struct {
    Population string
    N          int64
  }
  var rows []row
  if err := transaction.WithContext(ctx).
    Model(&types.PanelMember{}).
    Select("population, count(*) as n").
    Group("population").
    Scan(&rows).Error; err != nil {
    return nil, err
  }

  counts := make(map[string]int64, len(rows))
  for _, r := range rows {
    counts[r.Population] = r.N
  }
  return counts, nil
}
