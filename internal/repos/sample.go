package repos

import (
  "context"
  "github.com/google/uuid"
  "gorm.io/gorm"
  "github.com/genoplot/genoplot-backend/internal/logger"
  "github.com/genoplot/genoplot-backend/internal/types"
)

type SampleRepo interface {
  Create(ctx context.Context, tx *gorm.DB, samples []*types.Sample) ([]*types.Sample, error)
  GetByID(ctx context.Context, tx *gorm.DB, sampleID uuid.UUID) (*types.Sample, error)
  GetByIDs(ctx context.Context, tx *gorm.DB, sampleIDs []uuid.UUID) ([]*types.Sample, error)
  GetByStatus(ctx context.Context, tx *gorm.DB, status string) ([]*types.Sample, error)
  UpdateFields(ctx context.Context, tx *gorm.DB, sampleID uuid.UUID, updates map[string]interface{}) error
  SoftDeleteByIDs(ctx context.Context, tx *gorm.DB, sampleIDs []uuid.UUID) error
  FullDeleteByIDs(ctx context.Context, tx *gorm.DB, sampleIDs []uuid.UUID) error
}

type sampleRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewSampleRepo(db *gorm.DB, baseLog *logger.Logger) SampleRepo {
  repoLog := baseLog.With("repo", "SampleRepo")
  return &sampleRepo{db: db, log: repoLog}
}

func (r *sampleRepo) Create(ctx context.Context, tx *gorm.DB, samples []*types.Sample) ([]*types.Sample, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }

  if len(samples) == 0 {
    return []*types.Sample{}, nil
  }

  if err := transaction.WithContext(ctx).Create(&samples).Error; err != nil {
    return nil, err
  }
  return samples, nil
}

func (r *sampleRepo) GetByID(ctx context.Context, tx *gorm.DB, sampleID uuid.UUID) (*types.Sample, error) {
  rows, err := r.GetByIDs(ctx, tx, []uuid.UUID{sampleID})
  if err != nil {
    return nil, err
  }
  if len(rows) == 0 {
    return nil, gorm.ErrRecordNotFound
  }
  return rows[0], nil
}

func (r *sampleRepo) GetByIDs(ctx context.Context, tx *gorm.DB, sampleIDs []uuid.UUID) ([]*types.Sample, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }

  var results []*types.Sample
  if len(sampleIDs) == 0 {
    return results, nil
  }

  if err := transaction.WithContext(ctx).
    Where("id IN ?", sampleIDs).
    Find(&results).Error; err != nil {
    return nil, err
  }
  return results, nil
}

func (r *sampleRepo) GetByStatus(ctx context.Context, tx *gorm.DB, status string) ([]*types.Sample, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }

  var results []*types.Sample
  if err := transaction.WithContext(ctx).
    Where("status = ?", status).
    Find(&results).Error; err != nil {
    return nil, err
  }
  return results, nil
}

func (r *sampleRepo) UpdateFields(ctx context.Context, tx *gorm.DB, sampleID uuid.UUID, updates map[string]interface{}) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }

  if len(updates) == 0 {
    return nil
  }

  if err := transaction.WithContext(ctx).
    Model(&types.Sample{}).
    Where("id = ?", sampleID).
    Updates(updates).Error; err != nil {
    return err
  }
  return nil
}

func (r *sampleRepo) SoftDeleteByIDs(ctx context.Context, tx *gorm.DB, sampleIDs []uuid.UUID) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }

  if len(sampleIDs) == 0 {
    return nil
  }

  if err := transaction.WithContext(ctx).
    Where("id IN ?", sampleIDs).
    Delete(&types.Sample{}).Error; err != nil {
    return err
  }
  return nil
}

func (r *sampleRepo) FullDeleteByIDs(ctx context.Context, tx *gorm.DB, sampleIDs []uuid.UUID) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }

  if len(sampleIDs) == 0 {
    return nil
  }

  if err := transaction.WithContext(ctx).
    Unscoped().
    Where("id IN ?", sampleIDs).
    Delete(&types.Sample{}).Error; err != nil {
    return err
  }
  return nil
}
