package services

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/genoplot/genoplot-backend/internal/logger"
	"github.com/genoplot/genoplot-backend/internal/repos"
	"github.com/genoplot/genoplot-backend/internal/types"
)

type SampleService interface {
	CreateFromUpload(ctx context.Context, originalName string, file io.Reader) (*types.Sample, error)
	Get(ctx context.Context, sampleID uuid.UUID) (*types.Sample, error)
	GetWithProjection(ctx context.Context, sampleID uuid.UUID) (*types.Sample, *types.Projection, error)
	Delete(ctx context.Context, sampleID uuid.UUID) error
}

type sampleService struct {
	db             *gorm.DB
	log            *logger.Logger
	sampleRepo     repos.SampleRepo
	projectionRepo repos.ProjectionRepo
	storageService StorageService
}

func NewSampleService(
	db *gorm.DB,
	baseLog *logger.Logger,
	sampleRepo repos.SampleRepo,
	projectionRepo repos.ProjectionRepo,
	storageService StorageService,
) SampleService {
	serviceLog := baseLog.With("service", "SampleService")
	return &sampleService{
		db:             db,
		log:            serviceLog,
		sampleRepo:     sampleRepo,
		projectionRepo: projectionRepo,
		storageService: storageService,
	}
}

func (ss *sampleService) CreateFromUpload(ctx context.Context, originalName string, file io.Reader) (*types.Sample, error) {
	if originalName == "" {
		originalName = "upload.vcf"
	}

	sample := &types.Sample{
		ID:           uuid.New(),
		OriginalName: originalName,
		Status:       types.SampleStatusUploaded,
	}
	sample.StorageKey = fmt.Sprintf("samples/%s.vcf", sample.ID.String())

	ss.log.Info("Persisting uploaded sample file", "sample_id", sample.ID, "storage_key", sample.StorageKey)
	n, err := ss.storageService.Save(sample.StorageKey, file)
	if err != nil {
		return nil, fmt.Errorf("Failed to store upload: %w", err)
	}
	if n == 0 {
		_ = ss.storageService.Delete(sample.StorageKey)
		return nil, fmt.Errorf("uploaded file is empty")
	}
	sample.SizeBytes = n

	if _, err := ss.sampleRepo.Create(ctx, nil, []*types.Sample{sample}); err != nil {
		_ = ss.storageService.Delete(sample.StorageKey)
		return nil, fmt.Errorf("Failed to create sample row: %w", err)
	}
	return sample, nil
}

func (ss *sampleService) Get(ctx context.Context, sampleID uuid.UUID) (*types.Sample, error) {
	return ss.sampleRepo.GetByID(ctx, nil, sampleID)
}

func (ss *sampleService) GetWithProjection(ctx context.Context, sampleID uuid.UUID) (*types.Sample, *types.Projection, error) {
	sample, err := ss.sampleRepo.GetByID(ctx, nil, sampleID)
	if err != nil {
		return nil, nil, err
	}
	projection, err := ss.projectionRepo.GetBySampleID(ctx, nil, sampleID)
	if err == gorm.ErrRecordNotFound {
		return sample, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return sample, projection, nil
}

func (ss *sampleService) Delete(ctx context.Context, sampleID uuid.UUID) error {
	sample, err := ss.sampleRepo.GetByID(ctx, nil, sampleID)
	if err != nil {
		return err
	}

	err = ss.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ss.projectionRepo.FullDeleteBySampleIDs(ctx, tx, []uuid.UUID{sampleID}); err != nil {
			return err
		}
		return ss.sampleRepo.FullDeleteByIDs(ctx, tx, []uuid.UUID{sampleID})
	})
	if err != nil {
		return fmt.Errorf("Failed to delete sample: %w", err)
	}

	// Best-effort file cleanup after the row is gone
	if err := ss.storageService.Delete(sample.StorageKey); err != nil {
		ss.log.Warn("failed to delete stored upload (ignored)", "storage_key", sample.StorageKey, "error", err)
	}
	return nil
}
