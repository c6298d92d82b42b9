package repos

import (
  "context"
  "github.com/google/uuid"
  "gorm.io/gorm"
  "gorm.io/gorm/clause"
  "github.com/genoplot/genoplot-backend/internal/logger"
  "github.com/genoplot/genoplot-backend/internal/types"
)

type ProjectionRepo interface {
  Upsert(ctx context.Context, tx *gorm.DB, projection *types.Projection) (*types.Projection, error)
  GetBySampleID(ctx context.Context, tx *gorm.DB, sampleID uuid.UUID) (*types.Projection, error)
  GetBySampleIDs(ctx context.Context, tx *gorm.DB, sampleIDs []uuid.UUID) ([]*types.Projection, error)
  FullDeleteBySampleIDs(ctx context.Context, tx *gorm.DB, sampleIDs []uuid.UUID) error
}

type projectionRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewProjectionRepo(db *gorm.DB, baseLog *logger.Logger) ProjectionRepo {
  repoLog := baseLog.With("repo", "ProjectionRepo")
  return &projectionRepo{db: db, log: repoLog}
}

func (r *projectionRepo) Upsert(ctx context.Context, tx *gorm.DB, projection *types.Projection) (*types.Projection, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }

  if err := transaction.WithContext(ctx).
    Clauses(clause.OnConflict{
      Columns:   []clause.Column{{Name: "sample_id"}},
      UpdateAll: true,
    }).
    Create(projection).Error; err != nil {
    return nil, err
  }
  return projection, nil
}

func (r *projectionRepo) GetBySampleID(ctx context.Context, tx *gorm.DB, sampleID uuid.UUID) (*types.Projection, error) {
  rows, err := r.GetBySampleIDs(ctx, tx, []uuid.UUID{sampleID})
  if err != nil {
    return nil, err
  }
  if len(rows) == 0 {
    return nil, gorm.ErrRecordNotFound
  }
  return rows[0], nil
}

func (r *projectionRepo) GetBySampleIDs(ctx context.Context, tx *gorm.DB, sampleIDs []uuid.UUID) ([]*types.Projection, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }

  var results []*types.Projection
  if len(sampleIDs) == 0 {
    return results, nil
  }

  if err := transaction.WithContext(ctx).
    Where("sample_id IN ?", sampleIDs).
    Find(&results).Error; err != nil {
    return nil, err
  }
  return results, nil
}

func (r *projectionRepo) FullDeleteBySampleIDs(ctx context.Context, tx *gorm.DB, sampleIDs []uuid.UUID) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }

  if len(sampleIDs) == 0 {
    return nil
  }

  if err := transaction.WithContext(ctx).
    Unscoped().
    Where("sample_id IN ?", sampleIDs).
    Delete(&types.Projection{}).Error; err != nil {
    return err
  }
  return nil
}
