package decay

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/decision-cli/internal/model"
	"github.com/sells-group/decision-cli/internal/staleness"
)

func fitBucket(market model.Market, reason, band string, decided, correct, neutral int) staleness.Bucket {
	b := staleness.Bucket{
		Market:     market,
		ReasonCode: reason,
		AgeBand:    band,
		Total:      decided + neutral,
		Correct:    correct,
		Neutral:    neutral,
	}
	if decided > 0 {
		b.Accuracy = math.Round(float64(correct)/float64(decided)*10000) / 10000
	}
	return b
}

func TestFit_Empty(t *testing.T) {
	r := Fit(staleness.Report{})

	assert.Equal(t, ModelVersion, r.ModelVersion)
	assert.Equal(t, MinSupport, r.MinSupport)
	assert.Empty(t, r.Params)
	assert.Equal(t, Diagnostics{}, r.Diagnostics)
}

func TestFit_BaselineFromYoungestSupportedBand(t *testing.T) {
	r := Fit(staleness.Report{Buckets: []staleness.Bucket{
		fitBucket(model.Market1X2, "TOP_SEP", staleness.Band0to30m, 10, 8, 0),
		fitBucket(model.Market1X2, "TOP_SEP", staleness.Band6to24h, 10, 6, 0),
		fitBucket(model.Market1X2, "TOP_SEP", staleness.Band7dPlus, 10, 5, 0),
	}})

	require.Len(t, r.Params, 1)
	p := r.Params[0]
	assert.Equal(t, model.Market1X2, p.Market)
	assert.Equal(t, "TOP_SEP", p.ReasonCode)
	assert.InDelta(t, 0.8, p.Baseline, 0.0001)
	assert.Equal(t, staleness.Band0to30m, p.BaselineBand)

	require.Len(t, p.Bands, 7)
	// Supported bands fit; gaps carry the previous penalty forward.
	assert.InDelta(t, 1.0, p.PenaltyFor(staleness.Band0to30m), 0.0001)
	assert.InDelta(t, 1.0, p.PenaltyFor(staleness.Band2to6h), 0.0001)
	assert.InDelta(t, 0.8, p.PenaltyFor(staleness.Band6to24h), 0.0001)
	assert.InDelta(t, 0.8, p.PenaltyFor(staleness.Band3to7d), 0.0001)
	assert.InDelta(t, 0.7, p.PenaltyFor(staleness.Band7dPlus), 0.0001)

	assert.Equal(t, 3, p.SupportedBands())
}

func TestFit_NoSupportedBandsFitsFlat(t *testing.T) {
	r := Fit(staleness.Report{Buckets: []staleness.Bucket{
		fitBucket(model.Market1X2, "TOP_SEP", staleness.Band0to30m, 4, 1, 0),
		fitBucket(model.Market1X2, "TOP_SEP", staleness.Band7dPlus, 3, 0, 0),
	}})

	require.Len(t, r.Params, 1)
	p := r.Params[0]
	assert.Empty(t, p.BaselineBand)
	assert.InDelta(t, 1.0, p.Baseline, 0.0001)
	for _, b := range p.Bands {
		assert.InDelta(t, 1.0, b.Penalty, 0.0001)
		assert.False(t, b.Supported)
	}
	assert.Equal(t, 0, r.Diagnostics.KeysWithBaseline)
	assert.Equal(t, 0, p.SupportedBands())
}

func TestFit_NeutralsDoNotCountAsSupport(t *testing.T) {
	// Six rows but two neutral: four decided, below the support floor.
	r := Fit(staleness.Report{Buckets: []staleness.Bucket{
		fitBucket(model.Market1X2, "TOP_SEP", staleness.Band0to30m, 4, 3, 2),
	}})

	require.Len(t, r.Params, 1)
	assert.Equal(t, 0, r.Params[0].SupportedBands())
}

func TestFit_MonotonicClamp(t *testing.T) {
	// Accuracy recovers in the oldest band; the curve must not.
	r := Fit(staleness.Report{Buckets: []staleness.Bucket{
		fitBucket(model.Market1X2, "TOP_SEP", staleness.Band0to30m, 10, 8, 0),
		fitBucket(model.Market1X2, "TOP_SEP", staleness.Band2to6h, 10, 5, 0),
		fitBucket(model.Market1X2, "TOP_SEP", staleness.Band7dPlus, 10, 8, 0),
	}})

	p := r.Params[0]
	assert.InDelta(t, 0.7, p.PenaltyFor(staleness.Band2to6h), 0.0001)
	assert.InDelta(t, 0.7, p.PenaltyFor(staleness.Band7dPlus), 0.0001)

	prev := 1.0
	for _, b := range p.Bands {
		assert.LessOrEqual(t, b.Penalty, prev)
		prev = b.Penalty
	}
}

func TestFit_PenaltyFloorsAtZero(t *testing.T) {
	r := Fit(staleness.Report{Buckets: []staleness.Bucket{
		fitBucket(model.MarketOU25, "XG_PROXY", staleness.Band0to30m, 5, 5, 0),
		fitBucket(model.MarketOU25, "XG_PROXY", staleness.Band7dPlus, 5, 0, 0),
	}})

	p := r.Params[0]
	assert.InDelta(t, 0.0, p.PenaltyFor(staleness.Band7dPlus), 0.0001)
}

func TestFit_KeysSorted(t *testing.T) {
	r := Fit(staleness.Report{Buckets: []staleness.Bucket{
		fitBucket(model.MarketOU25, "XG_PROXY", staleness.Band0to30m, 10, 7, 0),
		fitBucket(model.Market1X2, "TOP_SEP", staleness.Band0to30m, 10, 8, 0),
		fitBucket(model.Market1X2, "H2H_USED", staleness.Band0to30m, 10, 6, 0),
	}})

	require.Len(t, r.Params, 3)
	assert.Equal(t, "H2H_USED", r.Params[0].ReasonCode)
	assert.Equal(t, "TOP_SEP", r.Params[1].ReasonCode)
	assert.Equal(t, model.MarketOU25, r.Params[2].Market)
}

func TestFit_Diagnostics(t *testing.T) {
	r := Fit(staleness.Report{Buckets: []staleness.Bucket{
		fitBucket(model.Market1X2, "TOP_SEP", staleness.Band0to30m, 10, 8, 0),
		fitBucket(model.Market1X2, "TOP_SEP", staleness.Band6to24h, 10, 6, 0),
		fitBucket(model.Market1X2, "H2H_USED", staleness.Band0to30m, 2, 1, 0),
	}})

	assert.Equal(t, 2, r.Diagnostics.Keys)
	assert.Equal(t, 1, r.Diagnostics.KeysWithBaseline)
	assert.Equal(t, 2, r.Diagnostics.BandsWithSupport)
	// Squared errors vs the 0.8 baseline: 0 and 0.04.
	assert.InDelta(t, 0.02, r.Diagnostics.MSEVsBaseline, 0.0001)
}

func TestParamsFor(t *testing.T) {
	r := Fit(staleness.Report{Buckets: []staleness.Bucket{
		fitBucket(model.Market1X2, "TOP_SEP", staleness.Band0to30m, 10, 8, 0),
	}})

	p, ok := r.ParamsFor(model.Market1X2, "TOP_SEP")
	assert.True(t, ok)
	assert.Equal(t, "TOP_SEP", p.ReasonCode)

	_, ok = r.ParamsFor(model.MarketBTTS, "TOP_SEP")
	assert.False(t, ok)
}

func TestPenaltyFor_UnknownBand(t *testing.T) {
	p := Params{Bands: []BandPenalty{{AgeBand: staleness.Band0to30m, Penalty: 0.5}}}
	assert.InDelta(t, 1.0, p.PenaltyFor("never"), 0.0001)
}
