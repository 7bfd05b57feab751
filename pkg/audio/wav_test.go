package audio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWAVRoundtrip(t *testing.T) {
	samples := []int16{0, 100, -100, 32767, -32768, 42}

	path := filepath.Join(t.TempDir(), "test.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	ww, err := NewWAVWriter(f, 16000)
	require.NoError(t, err)
	require.NoError(t, ww.Write(samples[:3]))
	require.NoError(t, ww.Write(samples[3:]))
	require.NoError(t, ww.Close())
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, 44+len(samples)*BytesPerSample)

	sampleRate, decoded, err := DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, 16000, sampleRate)
	assert.Equal(t, samples, decoded)
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	for name, data := range map[string][]byte{
		"empty":     nil,
		"too-short": []byte("RIFF"),
		"not-riff":  make([]byte, 64),
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := DecodeWAV(data)
			assert.Error(t, err)
		})
	}
}

func TestDecodeWAVRejectsStereo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	ww, err := NewWAVWriter(f, 16000)
	require.NoError(t, err)
	require.NoError(t, ww.Write([]int16{1, 2, 3, 4}))
	require.NoError(t, ww.Close())
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[22] = 2 // patch the channel count in the format chunk

	_, _, err = DecodeWAV(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "single-channel")
}
