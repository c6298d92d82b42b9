package handlers_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/genoplot/genoplot-backend/internal/genotype"
	"github.com/genoplot/genoplot-backend/internal/handlers"
	"github.com/genoplot/genoplot-backend/internal/logger"
	"github.com/genoplot/genoplot-backend/internal/middleware"
	"github.com/genoplot/genoplot-backend/internal/panel"
	"github.com/genoplot/genoplot-backend/internal/pca"
	"github.com/genoplot/genoplot-backend/internal/repos"
	"github.com/genoplot/genoplot-backend/internal/server"
	"github.com/genoplot/genoplot-backend/internal/services"
	"github.com/genoplot/genoplot-backend/internal/types"
)

const uploadVCF = "##fileformat=VCFv4.2\n" +
	"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tME\n" +
	"1\t100\trs1\tA\tG\t.\tPASS\t.\tGT\t1|1\n" +
	"1\t200\trs2\tC\tT\t.\tPASS\t.\tGT\t1|1\n" +
	"1\t300\trs3\tG\tA\t.\tPASS\t.\tGT\t0|0\n"

func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	return routerWithModel(t, testFittedModel(t))
}

func testFittedModel(t *testing.T) *pca.Model {
	t.Helper()
	matrix := &genotype.Matrix{
		SampleNames: []string{"e1", "e2", "f1", "f2"},
		SiteKeys:    []string{"1:100:A:G", "1:200:C:T", "1:300:G:A"},
		Data: [][]float64{
			{2, 2, 0},
			{2, 2, 0},
			{0, 0, 2},
			{0, 0, 2},
		},
	}
	model, scores, err := pca.Fit(matrix, 2)
	if err != nil {
		t.Fatalf("pca.Fit: %v", err)
	}
	pops := []struct{ pop, super string }{
		{"GBR", "EUR"}, {"GBR", "EUR"}, {"YRI", "AFR"}, {"YRI", "AFR"},
	}
	for i, name := range matrix.SampleNames {
		model.Panel = append(model.Panel, pca.PanelPoint{
			SampleID:        name,
			Population:      pops[i].pop,
			SuperPopulation: pops[i].super,
			Coords:          scores[i],
		})
	}
	return model
}

func routerWithModel(t *testing.T, model *pca.Model) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	path := filepath.Join(t.TempDir(), "handlers_test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&types.Sample{}, &types.Projection{}, &types.PanelMember{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Setenv("UPLOAD_DIR", t.TempDir())
	log := logger.NewNop()
	storage, err := services.NewLocalStorageService(log)
	if err != nil {
		t.Fatalf("NewLocalStorageService: %v", err)
	}

	sampleRepo := repos.NewSampleRepo(db, log)
	projectionRepo := repos.NewProjectionRepo(db, log)

	sampleService := services.NewSampleService(db, log, sampleRepo, projectionRepo, storage)
	projectionService := services.NewProjectionService(db, log, model, 0.2, sampleRepo, projectionRepo, storage)
	plotService := services.NewPlotService(log, model, panel.DefaultColors, nil)
	tokenService := services.NewTokenService(log, "test-secret", time.Hour)

	sampleHandler := handlers.NewSampleHandler(log, sampleService, projectionService, plotService, tokenService, 1<<20)
	panelHandler := handlers.NewPanelHandler(log, projectionService, plotService, panel.DefaultColors)
	tokenMiddleware := middleware.NewTokenMiddleware(log, tokenService)

	return server.NewRouter(server.RouterConfig{
		SampleHandler:   sampleHandler,
		PanelHandler:    panelHandler,
		TokenMiddleware: tokenMiddleware,
	})
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func doUpload(t *testing.T, router *gin.Engine, content string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, "file", "me.vcf", content)
	req := httptest.NewRequest(http.MethodPost, "/api/samples", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

type uploadResult struct {
	Sample struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		SampleName string `json:"sample_name"`
	} `json:"sample"`
	Projection struct {
		ModelVersion string    `json:"model_version"`
		Coordinates  []float64 `json:"coordinates"`
		NearestPops  []struct {
			Population string  `json:"population"`
			Weight     float64 `json:"weight"`
		} `json:"nearest_populations"`
	} `json:"projection"`
	AccessToken string `json:"access_token"`
}

func TestUploadHappyPath(t *testing.T) {
	router := testRouter(t)

	rec := doUpload(t, router, uploadVCF)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result uploadResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.AccessToken == "" {
		t.Fatalf("no access token in response")
	}
	if result.Sample.Status != types.SampleStatusProjected {
		t.Fatalf("sample status = %q", result.Sample.Status)
	}
	if result.Sample.SampleName != "ME" {
		t.Fatalf("sample name = %q", result.Sample.SampleName)
	}
	if len(result.Projection.Coordinates) != 2 {
		t.Fatalf("coordinates = %v", result.Projection.Coordinates)
	}
	if len(result.Projection.NearestPops) == 0 || result.Projection.NearestPops[0].Population != "GBR" {
		t.Fatalf("nearest = %+v", result.Projection.NearestPops)
	}
}

func TestUploadWithoutModelRejected(t *testing.T) {
	router := routerWithModel(t, nil)

	rec := doUpload(t, router, uploadVCF)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 (body %s)", rec.Code, rec.Body.String())
	}
	var envelope handlers.ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Error.Code != "no_model" {
		t.Fatalf("code = %q, want no_model", envelope.Error.Code)
	}
}

func TestUploadMissingFile(t *testing.T) {
	router := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/samples", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUploadInvalidVCF(t *testing.T) {
	router := testRouter(t)

	rec := doUpload(t, router, "definitely not a vcf\n")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
	}
	var envelope handlers.ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Error.Code != "invalid_vcf" {
		t.Fatalf("code = %q, want invalid_vcf", envelope.Error.Code)
	}
}

func TestUploadTooMuchMissing(t *testing.T) {
	router := testRouter(t)

	thin := "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tME\n" +
		"1\t100\trs1\tA\tG\t.\tPASS\t.\tGT\t1|1\n"
	rec := doUpload(t, router, thin)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 (body %s)", rec.Code, rec.Body.String())
	}
	var envelope handlers.ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Error.Code != "too_much_missing" {
		t.Fatalf("code = %q, want too_much_missing", envelope.Error.Code)
	}
}

func TestSampleGetRequiresToken(t *testing.T) {
	router := testRouter(t)

	rec := doUpload(t, router, uploadVCF)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload failed: %d", rec.Code)
	}
	var result uploadResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// no token -> 401
	req := httptest.NewRequest(http.MethodGet, "/api/samples/"+result.Sample.ID, nil)
	noToken := httptest.NewRecorder()
	router.ServeHTTP(noToken, req)
	if noToken.Code != http.StatusUnauthorized {
		t.Fatalf("no-token status = %d, want 401", noToken.Code)
	}

	// bearer token -> 200 with the projection attached
	req = httptest.NewRequest(http.MethodGet, "/api/samples/"+result.Sample.ID, nil)
	req.Header.Set("Authorization", "Bearer "+result.AccessToken)
	withToken := httptest.NewRecorder()
	router.ServeHTTP(withToken, req)
	if withToken.Code != http.StatusOK {
		t.Fatalf("with-token status = %d, body %s", withToken.Code, withToken.Body.String())
	}

	// query-param token works too
	req = httptest.NewRequest(http.MethodGet, "/api/samples/"+result.Sample.ID+"?token="+result.AccessToken, nil)
	queryToken := httptest.NewRecorder()
	router.ServeHTTP(queryToken, req)
	if queryToken.Code != http.StatusOK {
		t.Fatalf("query-token status = %d", queryToken.Code)
	}
}

func TestSampleTokenScopedToSample(t *testing.T) {
	router := testRouter(t)

	first := doUpload(t, router, uploadVCF)
	second := doUpload(t, router, uploadVCF)
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("uploads failed: %d / %d", first.Code, second.Code)
	}
	var a, b uploadResult
	if err := json.Unmarshal(first.Body.Bytes(), &a); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := json.Unmarshal(second.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// a's token must not open b's sample
	req := httptest.NewRequest(http.MethodGet, "/api/samples/"+b.Sample.ID, nil)
	req.Header.Set("Authorization", "Bearer "+a.AccessToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cross-sample status = %d, want 403", rec.Code)
	}
}

func TestSamplePlotEndpoints(t *testing.T) {
	router := testRouter(t)

	rec := doUpload(t, router, uploadVCF)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload failed: %d", rec.Code)
	}
	var result uploadResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/samples/"+result.Sample.ID+"/plot?dims=2", nil)
	req.Header.Set("Authorization", "Bearer "+result.AccessToken)
	plotRec := httptest.NewRecorder()
	router.ServeHTTP(plotRec, req)
	if plotRec.Code != http.StatusOK {
		t.Fatalf("plot status = %d, body %s", plotRec.Code, plotRec.Body.String())
	}
	var payload services.PlotPayload
	if err := json.Unmarshal(plotRec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode plot: %v", err)
	}
	if len(payload.Traces) != 3 || payload.Traces[2].Name != "Your sample" {
		t.Fatalf("traces = %d (%+v)", len(payload.Traces), payload.Traces)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/samples/"+result.Sample.ID+"/plot.png?size=200", nil)
	req.Header.Set("Authorization", "Bearer "+result.AccessToken)
	pngRec := httptest.NewRecorder()
	router.ServeHTTP(pngRec, req)
	if pngRec.Code != http.StatusOK {
		t.Fatalf("png status = %d", pngRec.Code)
	}
	if ct := pngRec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %q", ct)
	}
	if pngRec.Body.Len() == 0 {
		t.Fatalf("empty png body")
	}
}

func TestSampleDelete(t *testing.T) {
	router := testRouter(t)

	rec := doUpload(t, router, uploadVCF)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload failed: %d", rec.Code)
	}
	var result uploadResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/samples/"+result.Sample.ID, nil)
	req.Header.Set("Authorization", "Bearer "+result.AccessToken)
	delRec := httptest.NewRecorder()
	router.ServeHTTP(delRec, req)
	if delRec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body %s", delRec.Code, delRec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/samples/"+result.Sample.ID, nil)
	req.Header.Set("Authorization", "Bearer "+result.AccessToken)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, req)
	if getRec.Code != http.StatusNotFound {
		t.Fatalf("get-after-delete status = %d, want 404", getRec.Code)
	}
}

func TestPanelEndpoints(t *testing.T) {
	router := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/model", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("model status = %d", rec.Code)
	}
	var modelInfo struct {
		Components   int `json:"components"`
		Sites        int `json:"sites"`
		PanelSamples int `json:"panel_samples"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &modelInfo); err != nil {
		t.Fatalf("decode model: %v", err)
	}
	if modelInfo.Components != 2 || modelInfo.Sites != 3 || modelInfo.PanelSamples != 4 {
		t.Fatalf("model info = %+v", modelInfo)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/panel/populations", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("populations status = %d", rec.Code)
	}
	var pops struct {
		Populations []struct {
			Population string `json:"population"`
			Count      int    `json:"count"`
		} `json:"populations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &pops); err != nil {
		t.Fatalf("decode populations: %v", err)
	}
	if len(pops.Populations) != 2 {
		t.Fatalf("populations = %+v", pops.Populations)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/panel/projection?dims=2", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("panel projection status = %d", rec.Code)
	}
	var payload services.PlotPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Dims != 2 || len(payload.Traces) != 2 {
		t.Fatalf("payload = %+v", payload)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/panel/plot.png", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("panel png status = %d, content type %q", rec.Code, rec.Header().Get("Content-Type"))
	}
}

func TestHealthcheck(t *testing.T) {
	router := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthcheck status = %d", rec.Code)
	}
}
