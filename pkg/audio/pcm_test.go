package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSamplesBytesRoundtrip(t *testing.T) {
	samples := []int16{0, 1, -1, math.MaxInt16, math.MinInt16, 12345}
	b := SamplesToBytes(samples)
	require.Len(t, b, len(samples)*BytesPerSample)
	back, err := BytesToSamples(b)
	require.NoError(t, err)
	assert.Equal(t, samples, back)
}

func TestBytesToSamplesOddLength(t *testing.T) {
	_, err := BytesToSamples([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestFloatConversionClamps(t *testing.T) {
	assert.Equal(t, int16(math.MaxInt16), Float64ToSample(2))
	assert.Equal(t, int16(math.MinInt16), Float64ToSample(-2))
	assert.Equal(t, int16(0), Float64ToSample(0))
	assert.InDelta(t, 0.5, SampleToFloat64(Float64ToSample(0.5)), 0.001)
}

func TestRMS(t *testing.T) {
	assert.Zero(t, RMS(nil))
	assert.Zero(t, RMS(make([]int16, 100)))

	// -32768 maps exactly onto -1, so a constant full-scale signal has an RMS of 1.
	fullScale := make([]int16, 100)
	for idx := range fullScale {
		fullScale[idx] = math.MinInt16
	}
	assert.InDelta(t, 1.0, RMS(fullScale), 0.001)

	// A sine of amplitude A has an RMS of A/sqrt(2).
	sine := make([]int16, 1600)
	for idx := range sine {
		sine[idx] = Float64ToSample(0.5 * math.Sin(2*math.Pi*440*float64(idx)/16000))
	}
	assert.InDelta(t, 0.5/math.Sqrt2, RMS(sine), 0.01)
}
