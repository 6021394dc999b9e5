package staleness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBandFor_Boundaries(t *testing.T) {
	assert.Equal(t, Band0to30m, BandFor(0))
	assert.Equal(t, Band0to30m, BandFor(30*time.Minute))
	assert.Equal(t, Band30to120m, BandFor(30*time.Minute+time.Millisecond))
	assert.Equal(t, Band30to120m, BandFor(2*time.Hour))
	assert.Equal(t, Band2to6h, BandFor(6*time.Hour))
	assert.Equal(t, Band6to24h, BandFor(24*time.Hour))
	assert.Equal(t, Band1to3d, BandFor(72*time.Hour))
	assert.Equal(t, Band3to7d, BandFor(168*time.Hour))
	assert.Equal(t, Band7dPlus, BandFor(169*time.Hour))
	assert.Equal(t, Band7dPlus, BandFor(90*24*time.Hour))
}

func TestBandFor_NegativeAgeClampsToYoungest(t *testing.T) {
	assert.Equal(t, Band0to30m, BandFor(-time.Hour))
}

func TestBandIndex(t *testing.T) {
	assert.Equal(t, 0, BandIndex(Band0to30m))
	assert.Equal(t, 4, BandIndex(Band1to3d))
	assert.Equal(t, 6, BandIndex(Band7dPlus))
	assert.Equal(t, -1, BandIndex("never"))
}

func TestBandLabels_CoverEveryBound(t *testing.T) {
	assert.Len(t, BandLabels, len(bandBounds)+1)
	for i, b := range bandBounds {
		assert.Equal(t, BandLabels[i], b.label)
	}
}
