package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"geoheat/internal/heatmap"
	"geoheat/internal/iplocate"
	"geoheat/internal/logger"
	"geoheat/internal/metrics"
	"geoheat/internal/middleware"
)

// bboxAuto：按访问者位置推断视口，推断失败回退到全球
const bboxAuto = "auto"

type heatmapHandler struct {
	svc HeatmapService
	vp  Viewporter
	cfg Config
}

// get：GET /heatmap?bbox=minLng,minLat,maxLng,maxLat&precision=&sinceHours=&tag=&limit=
// 约束：参数在任何查询之前完成校验，非法参数直接 400
func (h *heatmapHandler) get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tBegin := time.Now()
	metrics.RequestsTotal.Inc()
	defer func() { metrics.RequestDurationMs.Observe(float64(time.Since(tBegin).Milliseconds())) }()

	q, limit, err := h.parseQuery(r)
	if err != nil {
		metrics.BadRequestsTotal.Inc()
		logger.L().Debug("heatmap_bad_request", "query", r.URL.RawQuery, "err", err)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	cells, err := h.svc.Heatmap(r.Context(), q)
	if err != nil {
		if r.Context().Err() != nil {
			logger.L().Debug("heatmap_client_gone", "err", err)
			return
		}
		status := statusFor(err)
		logger.L().Error("heatmap_error", "status", status, "err", err)
		writeJSON(w, status, map[string]any{"error": http.StatusText(status)})
		return
	}
	if limit > 0 && len(cells) > limit {
		cells = cells[:limit]
	}
	w.Header().Set("cache-control", fmt.Sprintf("public, max-age=%d", int(heatmap.CacheTTL/time.Second)))
	writeJSON(w, http.StatusOK, cells)
}

func (h *heatmapHandler) parseQuery(r *http.Request) (heatmap.Query, int, error) {
	v := r.URL.Query()
	q := heatmap.Query{Precision: h.cfg.DefaultPrecision, Tag: v.Get("tag")}
	switch raw := strings.TrimSpace(v.Get("bbox")); raw {
	case "":
	case bboxAuto:
		if box, ok := h.viewport(r); ok {
			q.Box = &box
		}
	default:
		box, err := heatmap.ParseBoundingBox(raw)
		if err != nil {
			return q, 0, err
		}
		q.Box = &box
	}
	var err error
	if q.Precision, err = intParam(v.Get("precision"), q.Precision); err != nil {
		return q, 0, fmt.Errorf("precision: %w", err)
	}
	if q.SinceHours, err = intParam(v.Get("sinceHours"), 0); err != nil {
		return q, 0, fmt.Errorf("sinceHours: %w", err)
	}
	if q.SinceHours < 0 {
		return q, 0, errors.New("sinceHours: must not be negative")
	}
	limit, err := intParam(v.Get("limit"), 0)
	if err != nil || limit < 0 {
		return q, 0, errors.New("limit: must be a non-negative integer")
	}
	if h.cfg.MaxCells > 0 && (limit == 0 || limit > h.cfg.MaxCells) {
		limit = h.cfg.MaxCells
	}
	return q, limit, nil
}

// viewport：优先边缘节点提供的坐标，其次 mmdb 查询访问者 IP
func (h *heatmapHandler) viewport(r *http.Request) (heatmap.BoundingBox, bool) {
	g, ok := middleware.GeoFromContext(r.Context())
	if ok && g.HasCoord {
		return iplocate.ViewportAround(g.Lat, g.Lng, iplocate.ViewportPrecision)
	}
	if h.vp == nil {
		return heatmap.BoundingBox{}, false
	}
	ip := g.ClientIP
	if !ok {
		ip = middleware.ClientIP(r)
	}
	return h.vp.Viewport(ip)
}

// invalidate：POST /heatmap/invalidate[?bbox=...]，需要 x-admin-token
func (h *heatmapHandler) invalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	t := r.Header.Get("x-admin-token")
	if t == "" || t != h.cfg.AdminToken {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	raw := strings.TrimSpace(r.URL.Query().Get("bbox"))
	var n int
	if raw == "" {
		n = h.svc.InvalidateAll(r.Context())
	} else {
		box, err := heatmap.ParseBoundingBox(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		n = h.svc.Invalidate(r.Context(), box.Canonical())
	}
	logger.L().Info("heatmap_invalidate", "bbox", raw, "keys", n)
	writeJSON(w, http.StatusOK, map[string]any{"invalidated": n})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, heatmap.ErrInvalidBoundingBox):
		return http.StatusBadRequest
	case errors.Is(err, heatmap.ErrAggregationFailed) && errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, heatmap.ErrAggregationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func intParam(s string, def int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	if w.Header().Get("cache-control") == "" {
		w.Header().Set("cache-control", "no-store")
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
