package model

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaionaro-go/enhancer/pkg/status"
)

func writeModelFile(t *testing.T, m *Model) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pv")
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, m))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0640))
	return path
}

func TestWriteLoadRoundtrip(t *testing.T) {
	path := writeModelFile(t, Default())
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), loaded)
}

func TestLoadCacheSharesModels(t *testing.T) {
	path := writeModelFile(t, Default())
	a, err := Load(path)
	require.NoError(t, err)
	b, err := Load(path)
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.pv"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.KindIO))
}

func TestLoadCorruptFile(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Default()))
	blob := buf.Bytes()

	t.Run("bad-magic", func(t *testing.T) {
		corrupted := append([]byte{}, blob...)
		corrupted[0] = 'Z'
		path := filepath.Join(t.TempDir(), "bad-magic.pv")
		require.NoError(t, os.WriteFile(path, corrupted, 0640))
		_, err := Load(path)
		require.Error(t, err)
		assert.True(t, errors.Is(err, status.KindInvalidArgument))
	})

	t.Run("flipped-byte", func(t *testing.T) {
		corrupted := append([]byte{}, blob...)
		corrupted[10] ^= 0xff
		path := filepath.Join(t.TempDir(), "flipped.pv")
		require.NoError(t, os.WriteFile(path, corrupted, 0640))
		_, err := Load(path)
		require.Error(t, err)
		assert.True(t, errors.Is(err, status.KindInvalidArgument))
		assert.Contains(t, err.Error(), "checksum")
	})

	t.Run("truncated", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "truncated.pv")
		require.NoError(t, os.WriteFile(path, blob[:len(blob)/2], 0640))
		_, err := Load(path)
		require.Error(t, err)
		assert.True(t, errors.Is(err, status.KindInvalidArgument))
	})
}

func TestWriteRejectsInvalidModels(t *testing.T) {
	for name, mutate := range map[string]func(*Model){
		"zero-frame":       func(m *Model) { m.FrameLength = 0 },
		"window-mismatch":  func(m *Model) { m.WindowLength = m.FrameLength * 3 },
		"non-power-of-two": func(m *Model) { m.FrameLength = 300; m.WindowLength = 600 },
		"bad-floor":        func(m *Model) { m.FloorGain = 1.5 },
		"bad-smoothing":    func(m *Model) { m.GainSmoothing = 1 },
	} {
		t.Run(name, func(t *testing.T) {
			m := Default()
			mutate(m)
			err := Write(&bytes.Buffer{}, m)
			require.Error(t, err)
			assert.True(t, errors.Is(err, status.KindInvalidArgument))
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().validate())
}
