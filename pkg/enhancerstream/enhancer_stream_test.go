package enhancerstream

import (
	"bytes"
	"context"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaionaro-go/enhancer/pkg/audio"
	"github.com/xaionaro-go/enhancer/pkg/enhancer"
	"github.com/xaionaro-go/enhancer/pkg/license"
)

const testAccessKey = "dGVzdC1hY2Nlc3Mta2V5"

func newTestEngine(t *testing.T) *enhancer.Engine {
	t.Helper()
	e, err := enhancer.New(context.Background(), enhancer.Config{
		AccessKey: testAccessKey,
		Validator: license.Offline{},
	})
	require.NoError(t, err)
	return e
}

func toneSamples(numFrames int) []int16 {
	samples := make([]int16, numFrames*enhancer.FrameLength())
	for idx := range samples {
		samples[idx] = audio.Float64ToSample(0.3 * math.Sin(2*math.Pi*440*float64(idx)/float64(enhancer.SampleRate())))
	}
	return samples
}

func TestEnhancerStreamMatchesDirectProcessing(t *testing.T) {
	const numFrames = 20
	samples := toneSamples(numFrames)

	// the reference: the same frames through a second, independent engine
	reference := newTestEngine(t)
	defer reference.Close()
	expected := make([]int16, 0, len(samples))
	enhanced := make([]int16, enhancer.FrameLength())
	for frameStart := 0; frameStart < len(samples); frameStart += enhancer.FrameLength() {
		_, err := reference.Process(context.Background(), samples[frameStart:frameStart+enhancer.FrameLength()], enhanced)
		require.NoError(t, err)
		expected = append(expected, enhanced...)
	}

	s, err := NewEnhancerStream(
		context.Background(),
		bytes.NewReader(audio.SamplesToBytes(samples)),
		newTestEngine(t),
		65536,
		65536,
	)
	require.NoError(t, err)
	defer s.Close()

	got := make([]byte, len(samples)*audio.BytesPerSample)
	_, err = io.ReadFull(s, got)
	require.NoError(t, err)
	gotSamples, err := audio.BytesToSamples(got)
	require.NoError(t, err)
	assert.Equal(t, expected, gotSamples)

	// the input is exhausted, so the stream must eventually report it
	_, err = io.ReadFull(s, make([]byte, 1))
	assert.Error(t, err)
}

func TestEnhancerStreamRejectsTinyBuffers(t *testing.T) {
	engine := newTestEngine(t)
	defer engine.Close()
	_, err := NewEnhancerStream(context.Background(), bytes.NewReader(nil), engine, 16, 16)
	assert.Error(t, err)
}

func TestEnhancerStreamClose(t *testing.T) {
	s, err := NewEnhancerStream(context.Background(), bytes.NewReader(audio.SamplesToBytes(toneSamples(4))), newTestEngine(t), 65536, 65536)
	require.NoError(t, err)
	assert.NoError(t, s.Close())
	assert.Error(t, s.Close(), "the engine is already deleted on the second close")
}
