package heatmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBoundingBox(t *testing.T) {
	b, err := ParseBoundingBox("-122.52, 37.70,-122.35,37.83")
	require.NoError(t, err)
	assert.Equal(t, BoundingBox{MinLat: 37.70, MaxLat: 37.83, MinLng: -122.52, MaxLng: -122.35}, b)
	assert.Equal(t, "-122.52,37.7,-122.35,37.83", b.Canonical())
	assert.True(t, b.Contains(37.70, -122.52), "bounds are inclusive")
	assert.False(t, b.Contains(37.69, -122.40))
}

func TestParseBoundingBoxInvalid(t *testing.T) {
	cases := map[string]string{
		"three tokens":  "1,2,3",
		"five tokens":   "1,2,3,4,5",
		"empty":         "",
		"non numeric":   "a,2,3,4",
		"nan":           "NaN,2,3,4",
		"inf":           "1,2,Inf,4",
		"lat range":     "0,-91,1,1",
		"lng range":     "-181,0,1,1",
		"min above max": "10,0,5,1",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseBoundingBox(in)
			assert.ErrorIs(t, err, ErrInvalidBoundingBox)
		})
	}
}

func TestCanonicalNormalizesNegativeZero(t *testing.T) {
	b, err := ParseBoundingBox("-0,-0.0,1,1")
	require.NoError(t, err)
	assert.Equal(t, "0,0,1,1", b.Canonical())
}

func TestQueryNormalize(t *testing.T) {
	q := Query{Precision: 40, SinceHours: -5, Tag: "  Hiking "}.Normalize()
	assert.Equal(t, 12, q.Precision)
	assert.Equal(t, 0, q.SinceHours)
	assert.Equal(t, "hiking", q.Tag)
	assert.Equal(t, 1, Query{}.Normalize().Precision)
}
