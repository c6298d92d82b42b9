package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/genoplot/genoplot-backend/internal/logger"
	"github.com/genoplot/genoplot-backend/internal/services"
	"github.com/genoplot/genoplot-backend/internal/types"
)

type SampleHandler struct {
	log               *logger.Logger
	sampleService     services.SampleService
	projectionService services.ProjectionService
	plotService       services.PlotService
	tokenService      services.TokenService
	maxUploadBytes    int64
}

func NewSampleHandler(
	log *logger.Logger,
	sampleService services.SampleService,
	projectionService services.ProjectionService,
	plotService services.PlotService,
	tokenService services.TokenService,
	maxUploadBytes int64,
) *SampleHandler {
	return &SampleHandler{
		log:               log.With("handler", "SampleHandler"),
		sampleService:     sampleService,
		projectionService: projectionService,
		plotService:       plotService,
		tokenService:      tokenService,
		maxUploadBytes:    maxUploadBytes,
	}
}

type uploadResponse struct {
	Sample      *types.Sample              `json:"sample"`
	Projection  *projectionView            `json:"projection,omitempty"`
	AccessToken string                     `json:"access_token"`
}

type projectionView struct {
	ModelVersion string                     `json:"model_version"`
	Coordinates  []float64                  `json:"coordinates"`
	NearestPops  []types.PopulationDistance `json:"nearest_populations"`
}

// POST /api/samples
// Multipart VCF upload in field "file"; projection runs synchronously.
func (h *SampleHandler) Upload(c *gin.Context) {
	// reject before persisting anything: a sample created with no model to
	// project against would be orphaned (no token is issued on failure)
	if h.projectionService.Model() == nil {
		RespondError(c, http.StatusServiceUnavailable, "no_model", services.ErrNoModel)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		RespondError(c, http.StatusBadRequest, "missing_file", fmt.Errorf("multipart field 'file' is required: %w", err))
		return
	}
	if fileHeader.Size > h.maxUploadBytes {
		RespondError(c, http.StatusBadRequest, "file_too_large", fmt.Errorf("upload exceeds %d bytes", h.maxUploadBytes))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "unreadable_file", err)
		return
	}
	defer file.Close()

	sample, err := h.sampleService.CreateFromUpload(c.Request.Context(), fileHeader.Filename, file)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "upload_failed", err)
		return
	}

	projection, err := h.projectionService.Project(c.Request.Context(), sample)
	if err != nil {
		h.respondPipelineError(c, sample, err)
		return
	}

	// re-read for the updated counters
	sample, _, err = h.sampleService.GetWithProjection(c.Request.Context(), sample.ID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "internal", err)
		return
	}

	token, err := h.tokenService.IssueSampleToken(sample.ID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "internal", err)
		return
	}

	view, err := buildProjectionView(projection)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "internal", err)
		return
	}

	RespondOK(c, uploadResponse{
		Sample:      sample,
		Projection:  view,
		AccessToken: token,
	})
}

// respondPipelineError maps pipeline failures onto status codes. The sample
// row already carries status=failed and the error text.
func (h *SampleHandler) respondPipelineError(c *gin.Context, sample *types.Sample, err error) {
	var parseErr *services.ParseError
	switch {
	case errors.Is(err, services.ErrNoModel):
		RespondError(c, http.StatusServiceUnavailable, "no_model", err)
	case errors.Is(err, services.ErrTooMuchMissing):
		RespondError(c, http.StatusUnprocessableEntity, "too_much_missing", err)
	case errors.Is(err, services.ErrNoSitesMatched):
		RespondError(c, http.StatusUnprocessableEntity, "no_sites_matched", err)
	case errors.As(err, &parseErr):
		RespondError(c, http.StatusBadRequest, "invalid_vcf", err)
	default:
		h.log.Error("projection pipeline failed", "sample_id", sample.ID, "error", err)
		RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}

// GET /api/samples/:id
func (h *SampleHandler) Get(c *gin.Context) {
	sampleID, ok := h.authorizedSampleID(c)
	if !ok {
		return
	}

	sample, projection, err := h.sampleService.GetWithProjection(c.Request.Context(), sampleID)
	if err == gorm.ErrRecordNotFound {
		RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("sample %s not found", sampleID))
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "internal", err)
		return
	}

	resp := gin.H{"sample": sample}
	if projection != nil {
		view, err := buildProjectionView(projection)
		if err != nil {
			RespondError(c, http.StatusInternalServerError, "internal", err)
			return
		}
		resp["projection"] = view
	}
	RespondOK(c, resp)
}

// GET /api/samples/:id/plot?dims=2|3
func (h *SampleHandler) Plot(c *gin.Context) {
	sampleID, ok := h.authorizedSampleID(c)
	if !ok {
		return
	}

	dims := 3
	if raw := c.Query("dims"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "bad_dims", fmt.Errorf("dims must be 2 or 3"))
			return
		}
		dims = parsed
	}

	sample, projection, err := h.sampleService.GetWithProjection(c.Request.Context(), sampleID)
	if err == gorm.ErrRecordNotFound {
		RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("sample %s not found", sampleID))
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "internal", err)
		return
	}
	if projection == nil {
		RespondError(c, http.StatusConflict, "not_projected", fmt.Errorf("sample %s has no projection (status %s)", sampleID, sample.Status))
		return
	}

	payload, err := h.plotService.SamplePlot(c.Request.Context(), sample, projection, dims)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_plot_request", err)
		return
	}
	RespondOK(c, payload)
}

// GET /api/samples/:id/plot.png?size=N
func (h *SampleHandler) PlotPNG(c *gin.Context) {
	sampleID, ok := h.authorizedSampleID(c)
	if !ok {
		return
	}

	size := 0
	if raw := c.Query("size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 64 {
			RespondError(c, http.StatusBadRequest, "bad_size", fmt.Errorf("size must be an integer >= 64"))
			return
		}
		size = parsed
	}

	sample, projection, err := h.sampleService.GetWithProjection(c.Request.Context(), sampleID)
	if err == gorm.ErrRecordNotFound {
		RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("sample %s not found", sampleID))
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "internal", err)
		return
	}
	if projection == nil {
		RespondError(c, http.StatusConflict, "not_projected", fmt.Errorf("sample %s has no projection (status %s)", sampleID, sample.Status))
		return
	}

	raw, err := h.plotService.RenderScatterPNG(c.Request.Context(), sample, projection, size)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "render_failed", err)
		return
	}
	c.Data(http.StatusOK, "image/png", raw)
}

// DELETE /api/samples/:id
func (h *SampleHandler) Delete(c *gin.Context) {
	sampleID, ok := h.authorizedSampleID(c)
	if !ok {
		return
	}

	err := h.sampleService.Delete(c.Request.Context(), sampleID)
	if err == gorm.ErrRecordNotFound {
		RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("sample %s not found", sampleID))
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "internal", err)
		return
	}
	RespondOK(c, gin.H{"deleted": sampleID})
}

// authorizedSampleID checks that the path ID parses and matches the sample ID
// the token middleware put on the context.
func (h *SampleHandler) authorizedSampleID(c *gin.Context) (uuid.UUID, bool) {
	sampleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_id", fmt.Errorf("invalid sample id: %w", err))
		return uuid.Nil, false
	}
	tokenSampleID, exists := c.Get("token_sample_id")
	if !exists {
		RespondError(c, http.StatusUnauthorized, "missing_token", fmt.Errorf("missing token"))
		return uuid.Nil, false
	}
	if tokenSampleID.(uuid.UUID) != sampleID {
		RespondError(c, http.StatusForbidden, "forbidden", fmt.Errorf("token does not match sample"))
		return uuid.Nil, false
	}
	return sampleID, true
}

func buildProjectionView(projection *types.Projection) (*projectionView, error) {
	var coords []float64
	if err := json.Unmarshal(projection.Coordinates, &coords); err != nil {
		return nil, fmt.Errorf("Failed to decode coordinates: %w", err)
	}
	var nearest []types.PopulationDistance
	if err := json.Unmarshal(projection.NearestPops, &nearest); err != nil {
		return nil, fmt.Errorf("Failed to decode nearest populations: %w", err)
	}
	return &projectionView{
		ModelVersion: projection.ModelVersion,
		Coordinates:  coords,
		NearestPops:  nearest,
	}, nil
}
