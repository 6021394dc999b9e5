package staleness

import "time"

// Band labels, youngest to oldest. Every measurement stage shares this
// vocabulary; decay fitting walks it in order, uncertainty and refusal
// index into it.
const (
	Band0to30m   = "0-30m"
	Band30to120m = "30-120m"
	Band2to6h    = "2-6h"
	Band6to24h   = "6-24h"
	Band1to3d    = "1-3d"
	Band3to7d    = "3-7d"
	Band7dPlus   = "7d+"
)

// BandLabels is the ordered band vocabulary, youngest first.
var BandLabels = []string{
	Band0to30m,
	Band30to120m,
	Band2to6h,
	Band6to24h,
	Band1to3d,
	Band3to7d,
	Band7dPlus,
}

// bandBounds holds each closed band's inclusive upper age bound. The 7d+
// band is open-ended and handled separately.
var bandBounds = []struct {
	label string
	upTo  time.Duration
}{
	{Band0to30m, 30 * time.Minute},
	{Band30to120m, 120 * time.Minute},
	{Band2to6h, 6 * time.Hour},
	{Band6to24h, 24 * time.Hour},
	{Band1to3d, 72 * time.Hour},
	{Band3to7d, 168 * time.Hour},
}

// BandFor maps an evidence age to its band label. Negative ages (clock
// skew between observation and decision) clamp to the youngest band.
func BandFor(age time.Duration) string {
	if age < 0 {
		return Band0to30m
	}
	for _, b := range bandBounds {
		if age <= b.upTo {
			return b.label
		}
	}
	return Band7dPlus
}

// BandIndex returns the label's position in BandLabels, -1 when unknown.
func BandIndex(label string) int {
	for i, l := range BandLabels {
		if l == label {
			return i
		}
	}
	return -1
}
