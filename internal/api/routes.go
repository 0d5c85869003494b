// 包 api：集中注册 HTTP API 路由以解耦主入口，便于后续扩展与替换
package api

import (
	"context"
	"net/http"
	"time"

	"geoheat/internal/heatmap"
)

// Config：HTTP 层参数，来自环境变量
type Config struct {
	DefaultPrecision int
	// MaxCells：响应单元数上限，0 表示不限
	MaxCells   int
	AdminToken string
}

// Viewporter：按访问者 IP 推断默认视口
type Viewporter interface {
	Viewport(ip string) (heatmap.BoundingBox, bool)
}

// HeatmapService：读路径与失效入口
type HeatmapService interface {
	Heatmap(ctx context.Context, q heatmap.Query) ([]heatmap.Cell, error)
	Invalidate(ctx context.Context, bboxCanonical string) int
	InvalidateAll(ctx context.Context) int
}

// 构建并返回 API 路由：独立 ServeMux 便于在主入口挂载到 API_BASE 前缀
func BuildRoutes(svc HeatmapService, vp Viewporter, cfg Config) *http.ServeMux {
	h := &heatmapHandler{svc: svc, vp: vp, cfg: cfg}
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/heatmap", h.get)
	apiMux.HandleFunc("/heatmap/invalidate", h.invalidate)
	return apiMux
}

// Health：存活检查，ping 失败返回 503
func Health(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "down", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}
