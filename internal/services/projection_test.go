package services

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/genoplot/genoplot-backend/internal/genotype"
	"github.com/genoplot/genoplot-backend/internal/logger"
	"github.com/genoplot/genoplot-backend/internal/pca"
	"github.com/genoplot/genoplot-backend/internal/repos"
	"github.com/genoplot/genoplot-backend/internal/types"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genoplot_test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&types.Sample{}, &types.Projection{}, &types.PanelMember{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// testModel fits a tiny 2-population panel: EUR samples at dosage (2,2,0),
// AFR at (0,0,2), so PC1 cleanly separates the groups.
func testModel(t *testing.T) *pca.Model {
	t.Helper()
	m := &genotype.Matrix{
		SampleNames: []string{"e1", "e2", "f1", "f2"},
		SiteKeys:    []string{"1:100:A:G", "1:200:C:T", "1:300:G:A"},
		Data: [][]float64{
			{2, 2, 0},
			{2, 2, 0},
			{0, 0, 2},
			{0, 0, 2},
		},
	}
	model, scores, err := pca.Fit(m, 2)
	if err != nil {
		t.Fatalf("pca.Fit: %v", err)
	}
	pops := []struct{ pop, super string }{
		{"GBR", "EUR"}, {"GBR", "EUR"}, {"YRI", "AFR"}, {"YRI", "AFR"},
	}
	for i, name := range m.SampleNames {
		model.Panel = append(model.Panel, pca.PanelPoint{
			SampleID:        name,
			Population:      pops[i].pop,
			SuperPopulation: pops[i].super,
			Coords:          scores[i],
		})
	}
	return model
}

func testStorage(t *testing.T) StorageService {
	t.Helper()
	t.Setenv("UPLOAD_DIR", t.TempDir())
	storage, err := NewLocalStorageService(logger.NewNop())
	if err != nil {
		t.Fatalf("NewLocalStorageService: %v", err)
	}
	return storage
}

func newTestProjectionService(t *testing.T, db *gorm.DB, model *pca.Model, storage StorageService) ProjectionService {
	t.Helper()
	log := logger.NewNop()
	return NewProjectionService(
		db, log, model, 0.2,
		repos.NewSampleRepo(db, log),
		repos.NewProjectionRepo(db, log),
		storage,
	)
}

func uploadSample(t *testing.T, db *gorm.DB, storage StorageService, body string) *types.Sample {
	t.Helper()
	log := logger.NewNop()
	ss := NewSampleService(db, log, repos.NewSampleRepo(db, log), repos.NewProjectionRepo(db, log), storage)
	sample, err := ss.CreateFromUpload(context.Background(), "me.vcf", strings.NewReader(body))
	if err != nil {
		t.Fatalf("CreateFromUpload: %v", err)
	}
	return sample
}

func TestNearestPopulations(t *testing.T) {
	model := testModel(t)
	ps := newTestProjectionService(t, nil, model, nil)

	// project a pure EUR-like genotype vector and rank
	coords, err := model.Transform([]float64{2, 2, 0})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	ranked := ps.NearestPopulations(coords)
	if len(ranked) != 2 {
		t.Fatalf("got %d populations, want 2", len(ranked))
	}
	if ranked[0].Population != "GBR" || ranked[0].SuperPopulation != "EUR" {
		t.Fatalf("nearest = %+v", ranked[0])
	}
	if ranked[0].Distance >= ranked[1].Distance {
		t.Fatalf("ranking not sorted: %v >= %v", ranked[0].Distance, ranked[1].Distance)
	}

	sum := 0.0
	for _, r := range ranked {
		if r.Weight <= 0 {
			t.Fatalf("non-positive weight: %+v", r)
		}
		sum += r.Weight
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("weights sum to %v, want 1", sum)
	}
	if ranked[0].Weight <= ranked[1].Weight {
		t.Fatalf("closest population should carry the most weight: %+v", ranked)
	}
}

func TestNearestPopulationsExcludesUnknown(t *testing.T) {
	model := testModel(t)
	model.Panel = append(model.Panel, pca.PanelPoint{
		SampleID:        "u1",
		Population:      types.PopulationUnknown,
		SuperPopulation: types.PopulationUnknown,
		Coords:          []float64{0, 0},
	})
	ps := newTestProjectionService(t, nil, model, nil)

	for _, r := range ps.NearestPopulations([]float64{0, 0}) {
		if r.Population == types.PopulationUnknown {
			t.Fatalf("Unknown leaked into the ranking: %+v", r)
		}
	}
}

const uploadEUR = "##fileformat=VCFv4.2\n" +
	"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tME\n" +
	"1\t100\trs1\tA\tG\t.\tPASS\t.\tGT\t1|1\n" +
	"1\t200\trs2\tC\tT\t.\tPASS\t.\tGT\t1|1\n" +
	"1\t300\trs3\tG\tA\t.\tPASS\t.\tGT\t0|0\n"

func TestProjectPipeline(t *testing.T) {
	db := testDB(t)
	model := testModel(t)
	storage := testStorage(t)
	ps := newTestProjectionService(t, db, model, storage)

	sample := uploadSample(t, db, storage, uploadEUR)
	projection, err := ps.Project(context.Background(), sample)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}

	if projection.SampleID != sample.ID || projection.ModelVersion != model.Version {
		t.Fatalf("projection = %+v", projection)
	}

	log := logger.NewNop()
	stored, err := repos.NewSampleRepo(db, log).GetByID(context.Background(), nil, sample.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != types.SampleStatusProjected {
		t.Fatalf("status = %q, want projected (error: %q)", stored.Status, stored.Error)
	}
	if stored.SampleName != "ME" {
		t.Fatalf("sample name = %q, want ME", stored.SampleName)
	}
	if stored.SitesInFile != 3 || stored.SitesMatched != 3 || stored.SitesImputed != 0 {
		t.Fatalf("counters = %+v", stored)
	}
	if stored.Missingness != 0 {
		t.Fatalf("missingness = %v, want 0", stored.Missingness)
	}

	// the stored ranking puts the EUR-like genotype next to GBR
	var ranked []types.PopulationDistance
	if err := json.Unmarshal(projection.NearestPops, &ranked); err != nil {
		t.Fatalf("decode nearest: %v", err)
	}
	if len(ranked) == 0 || ranked[0].Population != "GBR" {
		t.Fatalf("nearest = %+v", ranked)
	}

	// re-projecting upserts rather than duplicating
	again, err := ps.Project(context.Background(), sample)
	if err != nil {
		t.Fatalf("second Project: %v", err)
	}
	rows, err := repos.NewProjectionRepo(db, log).GetBySampleIDs(context.Background(), nil, []uuid.UUID{sample.ID})
	if err != nil {
		t.Fatalf("GetBySampleIDs: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d projection rows, want 1", len(rows))
	}
	if again.SampleID != sample.ID {
		t.Fatalf("second projection sample = %s", again.SampleID)
	}
}

func TestProjectNoSitesMatched(t *testing.T) {
	db := testDB(t)
	storage := testStorage(t)
	ps := newTestProjectionService(t, db, testModel(t), storage)

	foreign := "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tME\n" +
		"9\t1\trsX\tA\tC\t.\tPASS\t.\tGT\t0|1\n"
	sample := uploadSample(t, db, storage, foreign)

	_, err := ps.Project(context.Background(), sample)
	if !errors.Is(err, ErrNoSitesMatched) {
		t.Fatalf("err = %v, want ErrNoSitesMatched", err)
	}

	stored, _ := repos.NewSampleRepo(db, logger.NewNop()).GetByID(context.Background(), nil, sample.ID)
	if stored.Status != types.SampleStatusFailed || stored.Error == "" {
		t.Fatalf("failure not recorded on sample: %+v", stored)
	}
}

func TestProjectTooMuchMissing(t *testing.T) {
	db := testDB(t)
	storage := testStorage(t)
	ps := newTestProjectionService(t, db, testModel(t), storage)

	// one of three model sites present -> 2/3 missing, over the 0.2 ceiling
	thin := "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tME\n" +
		"1\t100\trs1\tA\tG\t.\tPASS\t.\tGT\t1|1\n"
	sample := uploadSample(t, db, storage, thin)

	_, err := ps.Project(context.Background(), sample)
	if !errors.Is(err, ErrTooMuchMissing) {
		t.Fatalf("err = %v, want ErrTooMuchMissing", err)
	}
}

func TestProjectUnparseableUpload(t *testing.T) {
	db := testDB(t)
	storage := testStorage(t)
	ps := newTestProjectionService(t, db, testModel(t), storage)

	sample := uploadSample(t, db, storage, "this is not a vcf\n")

	_, err := ps.Project(context.Background(), sample)
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("err = %v, want ParseError", err)
	}
}

func TestProjectWithoutModel(t *testing.T) {
	db := testDB(t)
	storage := testStorage(t)
	ps := newTestProjectionService(t, db, nil, storage)

	sample := uploadSample(t, db, storage, uploadEUR)
	if _, err := ps.Project(context.Background(), sample); !errors.Is(err, ErrNoModel) {
		t.Fatalf("err = %v, want ErrNoModel", err)
	}

	// the failure lands on the sample row like every other pipeline failure
	stored, err := repos.NewSampleRepo(db, logger.NewNop()).GetByID(context.Background(), nil, sample.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != types.SampleStatusFailed || stored.Error == "" {
		t.Fatalf("no-model failure not recorded: status=%q error=%q", stored.Status, stored.Error)
	}
}

func TestReprojectStuck(t *testing.T) {
	db := testDB(t)
	model := testModel(t)
	storage := testStorage(t)
	ps := newTestProjectionService(t, db, model, storage)

	sample := uploadSample(t, db, storage, uploadEUR)
	log := logger.NewNop()
	repo := repos.NewSampleRepo(db, log)
	if err := repo.UpdateFields(context.Background(), nil, sample.ID, map[string]interface{}{
		"status": types.SampleStatusProcessing,
	}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}

	if err := ps.ReprojectStuck(context.Background()); err != nil {
		t.Fatalf("ReprojectStuck: %v", err)
	}
	stored, err := repo.GetByID(context.Background(), nil, sample.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != types.SampleStatusProjected {
		t.Fatalf("status = %q after reproject (error: %q)", stored.Status, stored.Error)
	}
}
