package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"

	"geoheat/internal/logger"
)

// ClientGeo：边缘节点改写到请求头里的访问者位置
type ClientGeo struct {
	ClientIP string
	Lat      float64
	Lng      float64
	HasCoord bool
}

type geoKey struct{}

// GeoHint：解析边缘节点地理头并注入上下文，解析失败不阻断请求
func GeoHint(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g := parseClientGeo(r)
		ctx := context.WithValue(r.Context(), geoKey{}, g)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GeoFromContext：读取 GeoHint 注入的位置；未经过中间件时 ok=false
func GeoFromContext(ctx context.Context) (ClientGeo, bool) {
	g, ok := ctx.Value(geoKey{}).(ClientGeo)
	return g, ok
}

// 文档注释：解析地理头为位置结构
// 约束：经纬度必须同时存在且在合法范围内才视为有效；异常值忽略。
func parseClientGeo(r *http.Request) ClientGeo {
	h := r.Header
	g := ClientGeo{ClientIP: ClientIP(r)}
	lat, errLat := strconv.ParseFloat(h.Get("X-EO-Geo-Latitude"), 64)
	lng, errLng := strconv.ParseFloat(h.Get("X-EO-Geo-Longitude"), 64)
	if errLat == nil && errLng == nil && lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180 {
		g.Lat, g.Lng, g.HasCoord = lat, lng, true
	}
	logger.L().Debug("client_geo_parse", "ip", g.ClientIP, "lat", g.Lat, "lng", g.Lng, "has_coord", g.HasCoord)
	return g
}

// 文档注释：获取访问者 IP
// 背景：多层代理环境下优先常见反向代理头，最后回退远端地址。
// 约束：头部存在伪造风险，只用于推断默认视口，不用于鉴权。
func ClientIP(r *http.Request) string {
	h := r.Header
	if x := h.Get("x-forwarded-for"); x != "" {
		return strings.TrimSpace(strings.Split(x, ",")[0])
	}
	for _, k := range []string{"cf-connecting-ip", "x-real-ip", "x-client-ip", "x-edgeone-ip", "X-EO-Client-IP"} {
		if x := h.Get(k); x != "" {
			return x
		}
	}
	if x := h.Get("forwarded"); x != "" {
		i := strings.Index(strings.ToLower(x), "for=")
		if i >= 0 {
			y := x[i+4:]
			if p := strings.IndexAny(y, ";,"); p >= 0 {
				y = y[:p]
			}
			return hostOnly(y)
		}
	}
	if r.RemoteAddr != "" {
		return hostOnly(r.RemoteAddr)
	}
	return ""
}

// hostOnly：去掉引号、端口与 IPv6 方括号，"[2001:db8::1]:4711" 得到 2001:db8::1
func hostOnly(s string) string {
	s = strings.Trim(s, "\" ")
	if host, _, err := net.SplitHostPort(s); err == nil {
		return host
	}
	return strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
}
