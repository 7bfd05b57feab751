// Package audio contains the sample-format helpers shared by the engine and
// its callers: single-channel signed 16-bit little-endian PCM.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// BytesPerSample is the size of one S16LE sample.
const BytesPerSample = 2

// SamplesToBytes serializes samples as S16LE.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for idx, sample := range samples {
		binary.LittleEndian.PutUint16(out[idx*BytesPerSample:], uint16(sample))
	}
	return out
}

// BytesToSamples parses S16LE bytes into samples.
func BytesToSamples(b []byte) ([]int16, error) {
	if len(b)%BytesPerSample != 0 {
		return nil, fmt.Errorf("the length of the input is not a multiple of the sample size: %d %% %d != 0", len(b), BytesPerSample)
	}
	out := make([]int16, len(b)/BytesPerSample)
	for idx := range out {
		out[idx] = int16(binary.LittleEndian.Uint16(b[idx*BytesPerSample:]))
	}
	return out, nil
}

// SampleToFloat64 maps an S16 sample onto [-1, 1).
func SampleToFloat64(sample int16) float64 {
	return float64(sample) / 32768
}

// Float64ToSample maps a [-1, 1] value back to S16, clamping overshoots.
func Float64ToSample(v float64) int16 {
	scaled := v * 32768
	if scaled > math.MaxInt16 {
		return math.MaxInt16
	}
	if scaled < math.MinInt16 {
		return math.MinInt16
	}
	return int16(scaled)
}

// RMS is the root-mean-square of the samples on a [-1, 1]-normalized scale.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumOfSquares float64
	for _, sample := range samples {
		v := SampleToFloat64(sample)
		sumOfSquares += v * v
	}
	return math.Sqrt(sumOfSquares / float64(len(samples)))
}
