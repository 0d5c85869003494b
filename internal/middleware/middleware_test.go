package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitRejectsAfterCapacity(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tb := NewTokenBucket(2)
	tb.now = func() time.Time { return now }
	tb.lastSec = now.Unix()
	h := Limit(tb, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/heatmap", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{204, 204, 429}, codes)

	now = now.Add(time.Second)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/heatmap", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code, "bucket refills every second")
}

func TestGeoHintInjectsCoordinates(t *testing.T) {
	var got ClientGeo
	var ok bool
	h := GeoHint(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = GeoFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/heatmap", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	req.Header.Set("X-EO-Geo-Latitude", "31.23")
	req.Header.Set("X-EO-Geo-Longitude", "121.47")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, ok)
	assert.Equal(t, "203.0.113.7", got.ClientIP)
	assert.True(t, got.HasCoord)
	assert.Equal(t, 31.23, got.Lat)

	req = httptest.NewRequest(http.MethodGet, "/heatmap", nil)
	req.Header.Set("X-EO-Geo-Latitude", "131.23")
	req.Header.Set("X-EO-Geo-Longitude", "121.47")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.False(t, got.HasCoord)
	assert.Equal(t, "192.0.2.1", got.ClientIP)
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		name       string
		header     string
		value      string
		remoteAddr string
		want       string
	}{
		{"forwarded quoted with params", "Forwarded", `for="198.51.100.2";proto=https`, "", "198.51.100.2"},
		{"forwarded list", "Forwarded", "for=192.0.2.60, for=198.51.100.17", "", "192.0.2.60"},
		{"forwarded ipv4 with port", "Forwarded", `for="192.0.2.43:4711";by=203.0.113.1`, "", "192.0.2.43"},
		{"forwarded ipv6 with port", "Forwarded", `For="[2001:db8:cafe::17]:4711"`, "", "2001:db8:cafe::17"},
		{"forwarded ipv6 bare brackets", "Forwarded", `for="[2001:db8::1]"`, "", "2001:db8::1"},
		{"x-forwarded-for", "X-Forwarded-For", " 203.0.113.7 , 10.0.0.1", "", "203.0.113.7"},
		{"remote ipv4", "", "", "192.0.2.9:5555", "192.0.2.9"},
		{"remote ipv6", "", "", "[::1]:123", "::1"},
		{"remote without port", "", "", "198.51.100.4", "198.51.100.4"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			if tc.remoteAddr != "" {
				req.RemoteAddr = tc.remoteAddr
			}
			got := ClientIP(req)
			assert.Equal(t, tc.want, got)
			assert.NotNil(t, net.ParseIP(got))
		})
	}
}
