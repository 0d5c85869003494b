package heatmap

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrInvalidBoundingBox = errors.New("invalid bounding box")

// BoundingBox：经纬度轴对齐矩形，边界闭区间
type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

// World：覆盖全球的矩形
func World() BoundingBox {
	return BoundingBox{MinLat: -90, MaxLat: 90, MinLng: -180, MaxLng: 180}
}

// NewBoundingBox：校验范围与 min<=max
func NewBoundingBox(minLat, maxLat, minLng, maxLng float64) (BoundingBox, error) {
	b := BoundingBox{MinLat: minLat, MaxLat: maxLat, MinLng: minLng, MaxLng: maxLng}
	for _, v := range []float64{minLat, maxLat, minLng, maxLng} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return BoundingBox{}, fmt.Errorf("%w: non-finite coordinate", ErrInvalidBoundingBox)
		}
	}
	if minLat < -90 || maxLat > 90 || minLng < -180 || maxLng > 180 {
		return BoundingBox{}, fmt.Errorf("%w: out of range %s", ErrInvalidBoundingBox, b.Canonical())
	}
	if minLat > maxLat || minLng > maxLng {
		return BoundingBox{}, fmt.Errorf("%w: min greater than max in %s", ErrInvalidBoundingBox, b.Canonical())
	}
	return b, nil
}

// ParseBoundingBox：解析 "minLng,minLat,maxLng,maxLat"（经度在前）
func ParseBoundingBox(s string) (BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BoundingBox{}, fmt.Errorf("%w: want 4 values, got %d in %q", ErrInvalidBoundingBox, len(parts), s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BoundingBox{}, fmt.Errorf("%w: value %d %q is not a number", ErrInvalidBoundingBox, i+1, p)
		}
		v[i] = f
	}
	return NewBoundingBox(v[1], v[3], v[0], v[2])
}

// Canonical：与输入格式一致的规范字符串，缓存键与按区域失效都使用它
func (b BoundingBox) Canonical() string {
	return fmtCoord(b.MinLng) + "," + fmtCoord(b.MinLat) + "," + fmtCoord(b.MaxLng) + "," + fmtCoord(b.MaxLat)
}

func (b BoundingBox) String() string { return b.Canonical() }

func (b BoundingBox) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

func fmtCoord(f float64) string {
	if f == 0 {
		f = 0 // -0 与 0 同键
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
