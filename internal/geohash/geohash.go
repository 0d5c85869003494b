// 包 geohash：base32 geohash 编解码，纯函数，无状态
package geohash

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	MinPrecision = 1
	MaxPrecision = 12
)

var (
	ErrInvalidGeohash    = errors.New("invalid geohash")
	ErrInvalidCoordinate = errors.New("invalid coordinate")
)

const alphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

// 反查表：字符 -> 5 位值，-1 表示非法字符
var decodeMap [256]int8

func init() {
	for i := range decodeMap {
		decodeMap[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		decodeMap[alphabet[i]] = int8(i)
		decodeMap[strings.ToUpper(alphabet[i:i+1])[0]] = int8(i)
	}
}

// Box：geohash 单元对应的经纬度矩形（闭区间）
type Box struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

// Center：矩形中心
func (b Box) Center() (lat, lng float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLng + b.MaxLng) / 2
}

func (b Box) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// Decoded：解码结果
type Decoded struct {
	Lat float64
	Lng float64
	Box Box
}

// ClampPrecision：将精度限制在 [1,12]
func ClampPrecision(p int) int {
	if p < MinPrecision {
		return MinPrecision
	}
	if p > MaxPrecision {
		return MaxPrecision
	}
	return p
}

// Encode：经纬度编码为 geohash，偶数位为经度、奇数位为纬度，每 5 位输出一个字符
// 约束：精度超出 [1,12] 时截断到边界；NaN 或越界坐标返回 ErrInvalidCoordinate
func Encode(lat, lng float64, precision int) (string, error) {
	if math.IsNaN(lat) || math.IsNaN(lng) || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return "", fmt.Errorf("%w: lat=%v lng=%v", ErrInvalidCoordinate, lat, lng)
	}
	precision = ClampPrecision(precision)
	minLat, maxLat := -90.0, 90.0
	minLng, maxLng := -180.0, 180.0
	out := make([]byte, 0, precision)
	even := true
	bit, ch := 0, 0
	for len(out) < precision {
		if even {
			mid := (minLng + maxLng) / 2
			if lng >= mid {
				ch |= 1 << (4 - bit)
				minLng = mid
			} else {
				maxLng = mid
			}
		} else {
			mid := (minLat + maxLat) / 2
			if lat >= mid {
				ch |= 1 << (4 - bit)
				minLat = mid
			} else {
				maxLat = mid
			}
		}
		even = !even
		if bit < 4 {
			bit++
		} else {
			out = append(out, alphabet[ch])
			bit, ch = 0, 0
		}
	}
	return string(out), nil
}

// Decode：geohash 还原为单元矩形与中心点，大小写不敏感
func Decode(g string) (Decoded, error) {
	if g == "" {
		return Decoded{}, fmt.Errorf("%w: empty", ErrInvalidGeohash)
	}
	if len(g) > MaxPrecision {
		return Decoded{}, fmt.Errorf("%w: %q longer than %d", ErrInvalidGeohash, g, MaxPrecision)
	}
	b := Box{MinLat: -90, MaxLat: 90, MinLng: -180, MaxLng: 180}
	even := true
	for i := 0; i < len(g); i++ {
		cd := decodeMap[g[i]]
		if cd < 0 {
			return Decoded{}, fmt.Errorf("%w: %q has bad char %q", ErrInvalidGeohash, g, g[i])
		}
		for mask := int8(16); mask > 0; mask >>= 1 {
			if even {
				mid := (b.MinLng + b.MaxLng) / 2
				if cd&mask != 0 {
					b.MinLng = mid
				} else {
					b.MaxLng = mid
				}
			} else {
				mid := (b.MinLat + b.MaxLat) / 2
				if cd&mask != 0 {
					b.MinLat = mid
				} else {
					b.MaxLat = mid
				}
			}
			even = !even
		}
	}
	lat, lng := b.Center()
	return Decoded{Lat: lat, Lng: lng, Box: b}, nil
}

// Neighbors：返回 8 邻域（N, NE, E, SE, S, SW, W, NW），经度跨越 ±180 时回绕，极区越界的方向省略
func Neighbors(g string) ([]string, error) {
	d, err := Decode(g)
	if err != nil {
		return nil, err
	}
	dLat := d.Box.MaxLat - d.Box.MinLat
	dLng := d.Box.MaxLng - d.Box.MinLng
	steps := [8][2]float64{{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1}}
	out := make([]string, 0, 8)
	for _, s := range steps {
		lat := d.Lat + s[0]*dLat
		if lat > 90 || lat < -90 {
			continue
		}
		lng := d.Lng + s[1]*dLng
		if lng > 180 {
			lng -= 360
		} else if lng < -180 {
			lng += 360
		}
		n, err := Encode(lat, lng, len(g))
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}
