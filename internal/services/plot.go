package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"

	"github.com/genoplot/genoplot-backend/internal/cache"
	"github.com/genoplot/genoplot-backend/internal/logger"
	"github.com/genoplot/genoplot-backend/internal/pca"
	"github.com/genoplot/genoplot-backend/internal/types"
)

// Plot payloads follow the three-trace layout the frontend scatter expects:
// panel members with known populations, panel members labelled Unknown, and
// (when present) the uploaded sample as its own highlighted trace.

type AxisLabel struct {
	Name              string  `json:"name"`
	ExplainedVariance float64 `json:"explained_variance"`
}

type Marker struct {
	Size    int      `json:"size"`
	Color   string   `json:"color,omitempty"`
	Colors  []string `json:"colors,omitempty"`
	Symbol  string   `json:"symbol,omitempty"`
	Opacity float64  `json:"opacity"`
}

type Trace struct {
	Name string    `json:"name"`
	Mode string    `json:"mode"`
	X    []float64 `json:"x"`
	Y    []float64 `json:"y"`
	Z    []float64 `json:"z,omitempty"`
	Text []string  `json:"text"`
	Marker Marker  `json:"marker"`
}

type PlotPayload struct {
	Dims         int         `json:"dims"`
	ModelVersion string      `json:"model_version"`
	Axes         []AxisLabel `json:"axes"`
	Traces       []Trace     `json:"traces"`
}

type PlotService interface {
	PanelPlot(ctx context.Context, dims int) (*PlotPayload, error)
	SamplePlot(ctx context.Context, sample *types.Sample, projection *types.Projection, dims int) (*PlotPayload, error)
	RenderScatterPNG(ctx context.Context, sample *types.Sample, projection *types.Projection, size int) ([]byte, error)
}

type plotService struct {
	log      *logger.Logger
	model    *pca.Model
	colors   map[string]string
	cache    *cache.Cache
	fontFace font.Face
}

const renderBaseSize = 900

func NewPlotService(baseLog *logger.Logger, model *pca.Model, colors map[string]string, c *cache.Cache) PlotService {
	serviceLog := baseLog.With("service", "PlotService")

	var face font.Face
	fontPath := strings.TrimSpace(os.Getenv("PLOT_FONT"))
	if fontPath != "" {
		loaded, err := loadFontFace(fontPath, 15)
		if err != nil {
			serviceLog.Warn("Could not load plot font, rendering without labels", "font", fontPath, "error", err)
		} else {
			face = loaded
		}
	} else {
		serviceLog.Info("PLOT_FONT not set, rendered plots will have no text labels")
	}

	return &plotService{
		log:      serviceLog,
		model:    model,
		colors:   colors,
		cache:    c,
		fontFace: face,
	}
}

func (ps *plotService) axes(dims int) []AxisLabel {
	labels := make([]AxisLabel, dims)
	for i := 0; i < dims; i++ {
		labels[i] = AxisLabel{Name: fmt.Sprintf("PC%d", i+1)}
		if i < len(ps.model.ExplainedVariance) {
			labels[i].ExplainedVariance = ps.model.ExplainedVariance[i]
		}
	}
	return labels
}

func (ps *plotService) PanelPlot(ctx context.Context, dims int) (*PlotPayload, error) {
	if ps.model == nil {
		return nil, ErrNoModel
	}
	dims, err := ps.clampDims(dims)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("genoplot:panel:%s:%d", ps.model.Version, dims)
	if raw, ok := ps.cache.Get(ctx, key); ok {
		var payload PlotPayload
		if err := json.Unmarshal(raw, &payload); err == nil {
			return &payload, nil
		}
	}

	payload := &PlotPayload{
		Dims:         dims,
		ModelVersion: ps.model.Version,
		Axes:         ps.axes(dims),
		Traces:       ps.panelTraces(dims),
	}

	if raw, err := json.Marshal(payload); err == nil {
		ps.cache.Set(ctx, key, raw)
	}
	return payload, nil
}

func (ps *plotService) SamplePlot(ctx context.Context, sample *types.Sample, projection *types.Projection, dims int) (*PlotPayload, error) {
	payload, err := ps.PanelPlot(ctx, dims)
	if err != nil {
		return nil, err
	}

	coords, err := decodeCoords(projection)
	if err != nil {
		return nil, err
	}
	// a projection persisted against an older, smaller model can carry fewer
	// coordinates than the current model plots
	if len(coords) < payload.Dims {
		return nil, fmt.Errorf("projection carries %d coordinates but the current model (%s) plots %d; reproject the sample",
			len(coords), ps.model.Version, payload.Dims)
	}

	user := Trace{
		Name: "Your sample",
		Mode: "markers",
		X:    []float64{coords[0]},
		Y:    []float64{coords[1]},
		Text: []string{sample.SampleName},
		Marker: Marker{
			Size:    12,
			Color:   "#1F4FE8",
			Symbol:  "diamond",
			Opacity: 1,
		},
	}
	if payload.Dims == 3 {
		user.Z = []float64{coords[2]}
	}

	out := *payload
	out.Traces = append(append([]Trace{}, payload.Traces...), user)
	return &out, nil
}

func (ps *plotService) clampDims(dims int) (int, error) {
	if dims == 0 {
		dims = 3
	}
	if dims != 2 && dims != 3 {
		return 0, fmt.Errorf("dims must be 2 or 3, got %d", dims)
	}
	if dims > ps.model.K {
		dims = ps.model.K
	}
	return dims, nil
}

func (ps *plotService) panelTraces(dims int) []Trace {
	known := Trace{
		Name: "Known populations",
		Mode: "markers",
		Marker: Marker{
			Size:    5,
			Opacity: 0.8,
		},
	}
	unknown := Trace{
		Name: "Unknown",
		Mode: "markers",
		Marker: Marker{
			Size:    10,
			Color:   ps.colorFor(types.PopulationUnknown),
			Symbol:  "x",
			Opacity: 0.9,
		},
	}

	for _, p := range ps.model.Panel {
		coords := p.Coords
		if len(coords) < dims {
			continue
		}
		if p.Population == types.PopulationUnknown {
			appendPoint(&unknown, coords, dims, p.Population)
			continue
		}
		appendPoint(&known, coords, dims, p.Population)
		known.Marker.Colors = append(known.Marker.Colors, ps.colorFor(p.SuperPopulation))
	}
	return []Trace{known, unknown}
}

func appendPoint(t *Trace, coords []float64, dims int, text string) {
	t.X = append(t.X, coords[0])
	t.Y = append(t.Y, coords[1])
	if dims == 3 {
		t.Z = append(t.Z, coords[2])
	}
	t.Text = append(t.Text, text)
}

func (ps *plotService) colorFor(superPopulation string) string {
	if c, ok := ps.colors[superPopulation]; ok {
		return c
	}
	return "#888888"
}

// RenderScatterPNG draws the PC1/PC2 scatter. A nil sample renders the panel
// alone (cached per model version); non-nil adds the sample's diamond.
func (ps *plotService) RenderScatterPNG(ctx context.Context, sample *types.Sample, projection *types.Projection, size int) ([]byte, error) {
	if ps.model == nil {
		return nil, ErrNoModel
	}
	if size <= 0 || size > 2000 {
		size = renderBaseSize
	}

	var cacheKey string
	if sample == nil {
		cacheKey = fmt.Sprintf("genoplot:panelpng:%s:%d", ps.model.Version, size)
		if raw, ok := ps.cache.Get(ctx, cacheKey); ok {
			return raw, nil
		}
	}

	var userCoords []float64
	if sample != nil {
		coords, err := decodeCoords(projection)
		if err != nil {
			return nil, err
		}
		userCoords = coords
	}

	img, err := ps.render(userCoords)
	if err != nil {
		return nil, err
	}
	if size != renderBaseSize {
		img = downscale(img, size)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("Failed to encode PNG: %w", err)
	}
	raw := buf.Bytes()
	if sample == nil {
		ps.cache.Set(ctx, cacheKey, raw)
	}
	return raw, nil
}

func (ps *plotService) render(userCoords []float64) (image.Image, error) {
	const s = float64(renderBaseSize)
	marginL, marginR, marginT, marginB := 80.0, 40.0, 50.0, 70.0

	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	grow := func(x, y float64) {
		minX = math.Min(minX, x)
		maxX = math.Max(maxX, x)
		minY = math.Min(minY, y)
		maxY = math.Max(maxY, y)
	}
	for _, p := range ps.model.Panel {
		if len(p.Coords) >= 2 {
			grow(p.Coords[0], p.Coords[1])
		}
	}
	if userCoords != nil {
		grow(userCoords[0], userCoords[1])
	}
	if math.IsInf(minX, 1) {
		return nil, fmt.Errorf("panel has no plottable points")
	}
	padX := (maxX - minX) * 0.08
	padY := (maxY - minY) * 0.08
	if padX == 0 {
		padX = 1
	}
	if padY == 0 {
		padY = 1
	}
	minX, maxX = minX-padX, maxX+padX
	minY, maxY = minY-padY, maxY+padY

	toPx := func(x, y float64) (float64, float64) {
		px := marginL + (x-minX)/(maxX-minX)*(s-marginL-marginR)
		py := s - marginB - (y-minY)/(maxY-minY)*(s-marginT-marginB)
		return px, py
	}

	dc := gg.NewContext(renderBaseSize, renderBaseSize)
	dc.SetHexColor("#FFFFFF")
	dc.Clear()

	// plot frame
	dc.SetHexColor("#444444")
	dc.SetLineWidth(1.5)
	dc.DrawRectangle(marginL, marginT, s-marginL-marginR, s-marginT-marginB)
	dc.Stroke()

	if ps.fontFace != nil {
		dc.SetFontFace(ps.fontFace)
	}

	// panel points
	for _, p := range ps.model.Panel {
		if len(p.Coords) < 2 {
			continue
		}
		px, py := toPx(p.Coords[0], p.Coords[1])
		if p.Population == types.PopulationUnknown {
			dc.SetHexColor(ps.colorFor(types.PopulationUnknown))
			dc.SetLineWidth(2)
			dc.DrawLine(px-4, py-4, px+4, py+4)
			dc.DrawLine(px-4, py+4, px+4, py-4)
			dc.Stroke()
			continue
		}
		dc.SetHexColor(ps.colorFor(p.SuperPopulation))
		dc.DrawCircle(px, py, 3.5)
		dc.Fill()
	}

	// uploaded sample on top
	if userCoords != nil {
		px, py := toPx(userCoords[0], userCoords[1])
		dc.SetHexColor("#1F4FE8")
		dc.MoveTo(px, py-9)
		dc.LineTo(px+9, py)
		dc.LineTo(px, py+9)
		dc.LineTo(px-9, py)
		dc.ClosePath()
		dc.Fill()
		dc.SetHexColor("#FFFFFF")
		dc.SetLineWidth(1.5)
		dc.MoveTo(px, py-9)
		dc.LineTo(px+9, py)
		dc.LineTo(px, py+9)
		dc.LineTo(px-9, py)
		dc.ClosePath()
		dc.Stroke()
	}

	if ps.fontFace != nil {
		ps.drawLabels(dc, s, marginL, marginB, userCoords != nil)
	}

	return dc.Image(), nil
}

func (ps *plotService) drawLabels(dc *gg.Context, s, marginL, marginB float64, withUser bool) {
	dc.SetHexColor("#222222")

	xLabel := "PC1"
	yLabel := "PC2"
	if len(ps.model.ExplainedVariance) >= 2 {
		xLabel = fmt.Sprintf("PC1 (%.1f%%)", ps.model.ExplainedVariance[0]*100)
		yLabel = fmt.Sprintf("PC2 (%.1f%%)", ps.model.ExplainedVariance[1]*100)
	}
	dc.DrawStringAnchored(xLabel, s/2, s-marginB/2, 0.5, 0.5)
	dc.Push()
	dc.RotateAbout(-math.Pi/2, marginL/2.5, s/2)
	dc.DrawStringAnchored(yLabel, marginL/2.5, s/2, 0.5, 0.5)
	dc.Pop()

	// legend, one entry per super-population present in the panel
	supers := map[string]bool{}
	for _, p := range ps.model.Panel {
		if p.Population != types.PopulationUnknown {
			supers[p.SuperPopulation] = true
		}
	}
	names := make([]string, 0, len(supers))
	for name := range supers {
		names = append(names, name)
	}
	sort.Strings(names)
	names = append(names, types.PopulationUnknown)
	if withUser {
		names = append(names, "Your sample")
	}

	lx := s - 180
	ly := 70.0
	for _, name := range names {
		color := ps.colorFor(name)
		if name == "Your sample" {
			color = "#1F4FE8"
		}
		dc.SetHexColor(color)
		dc.DrawRectangle(lx, ly-7, 14, 14)
		dc.Fill()
		dc.SetHexColor("#222222")
		dc.DrawStringAnchored(name, lx+22, ly, 0, 0.4)
		ly += 24
	}
}

func downscale(img image.Image, size int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

func decodeCoords(projection *types.Projection) ([]float64, error) {
	if projection == nil {
		return nil, fmt.Errorf("sample has no projection yet")
	}
	var coords []float64
	if err := json.Unmarshal(projection.Coordinates, &coords); err != nil {
		return nil, fmt.Errorf("Failed to decode projection coordinates: %w", err)
	}
	if len(coords) < 2 {
		return nil, fmt.Errorf("projection has %d coordinates, need at least 2", len(coords))
	}
	return coords, nil
}

func loadFontFace(fontPath string, size float64) (font.Face, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read font file: %w", err)
	}
	parsedFont, err := truetype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TTF: %w", err)
	}
	face := truetype.NewFace(parsedFont, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	return face, nil
}
