package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/genoplot/genoplot-backend/internal/logger"
	"github.com/genoplot/genoplot-backend/internal/services"
	"github.com/genoplot/genoplot-backend/internal/types"
)

type PanelHandler struct {
	log               *logger.Logger
	projectionService services.ProjectionService
	plotService       services.PlotService
	colors            map[string]string
}

func NewPanelHandler(
	log *logger.Logger,
	projectionService services.ProjectionService,
	plotService services.PlotService,
	colors map[string]string,
) *PanelHandler {
	return &PanelHandler{
		log:               log.With("handler", "PanelHandler"),
		projectionService: projectionService,
		plotService:       plotService,
		colors:            colors,
	}
}

// GET /api/model
func (h *PanelHandler) GetModel(c *gin.Context) {
	model := h.projectionService.Model()
	if model == nil {
		RespondError(c, http.StatusServiceUnavailable, "no_model", services.ErrNoModel)
		return
	}
	RespondOK(c, gin.H{
		"version":            model.Version,
		"fitted_at":          model.FittedAt,
		"components":         model.K,
		"sites":              len(model.SiteKeys),
		"panel_samples":      len(model.Panel),
		"explained_variance": model.ExplainedVariance,
	})
}

// GET /api/panel/populations
func (h *PanelHandler) GetPopulations(c *gin.Context) {
	model := h.projectionService.Model()
	if model == nil {
		RespondError(c, http.StatusServiceUnavailable, "no_model", services.ErrNoModel)
		return
	}

	type popInfo struct {
		Population      string `json:"population"`
		SuperPopulation string `json:"super_population"`
		Color           string `json:"color"`
		Count           int    `json:"count"`
	}

	byPop := map[string]*popInfo{}
	order := []string{}
	for _, p := range model.Panel {
		info, ok := byPop[p.Population]
		if !ok {
			color := h.colors[p.SuperPopulation]
			if color == "" {
				color = "#888888"
			}
			info = &popInfo{
				Population:      p.Population,
				SuperPopulation: p.SuperPopulation,
				Color:           color,
			}
			byPop[p.Population] = info
			order = append(order, p.Population)
		}
		info.Count++
	}

	populations := make([]*popInfo, 0, len(order))
	unknownCount := 0
	for _, name := range order {
		if name == types.PopulationUnknown {
			unknownCount = byPop[name].Count
			continue
		}
		populations = append(populations, byPop[name])
	}
	RespondOK(c, gin.H{
		"populations":     populations,
		"unknown_samples": unknownCount,
	})
}

// GET /api/panel/projection?dims=2|3
func (h *PanelHandler) GetProjection(c *gin.Context) {
	dims := 3
	if raw := c.Query("dims"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "bad_dims", fmt.Errorf("dims must be 2 or 3"))
			return
		}
		dims = parsed
	}

	payload, err := h.plotService.PanelPlot(c.Request.Context(), dims)
	if err == services.ErrNoModel {
		RespondError(c, http.StatusServiceUnavailable, "no_model", err)
		return
	}
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_plot_request", err)
		return
	}
	RespondOK(c, payload)
}

// GET /api/panel/plot.png?size=N
func (h *PanelHandler) PlotPNG(c *gin.Context) {
	size := 0
	if raw := c.Query("size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 64 {
			RespondError(c, http.StatusBadRequest, "bad_size", fmt.Errorf("size must be an integer >= 64"))
			return
		}
		size = parsed
	}

	raw, err := h.plotService.RenderScatterPNG(c.Request.Context(), nil, nil, size)
	if err == services.ErrNoModel {
		RespondError(c, http.StatusServiceUnavailable, "no_model", err)
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "render_failed", err)
		return
	}
	c.Data(http.StatusOK, "image/png", raw)
}
