// Package model loads the engine's parameter blobs. The on-disk format is
// internal to this project and carries the framing constants and the tuning
// parameters of the enhancement kernel; treat the file as opaque.
//
// A blob loaded from disk is cached process-wide and shared read-only between
// engine instances; a Model must never be mutated after Load returns it.
package model

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/xaionaro-go/enhancer/pkg/status"
)

const magic = "XAEN"

const formatVersion = 1

// payloadSize is the fixed size of the serialized parameter section:
// 4 (magic) + 2 (version) + 3*4 (framing) + 5*8 (tuning).
const payloadSize = 4 + 2 + 3*4 + 5*8

// Model is a loaded parameter set.
type Model struct {
	SampleRate   int
	FrameLength  int
	WindowLength int

	// kernel tuning
	OverSubtraction float64
	FloorGain       float64
	NoiseAttack     float64
	NoiseRelease    float64
	GainSmoothing   float64
}

// Default returns the parameter set that is compiled into the engine and used
// when no model path is given.
func Default() *Model {
	return &Model{
		SampleRate:      16000,
		FrameLength:     256,
		WindowLength:    512,
		OverSubtraction: 1.5,
		FloorGain:       0.05,
		NoiseAttack:     0.3,
		NoiseRelease:    0.0002,
		GainSmoothing:   0.6,
	}
}

func (m *Model) validate() error {
	switch {
	case m.SampleRate <= 0:
		return status.Errorf(status.KindInvalidArgument, "the sample rate is not positive: %d", m.SampleRate)
	case m.FrameLength <= 0:
		return status.Errorf(status.KindInvalidArgument, "the frame length is not positive: %d", m.FrameLength)
	case m.WindowLength != 2*m.FrameLength:
		return status.Errorf(status.KindInvalidArgument, "the window length is not twice the frame length: %d != 2*%d", m.WindowLength, m.FrameLength)
	case m.WindowLength&(m.WindowLength-1) != 0:
		return status.Errorf(status.KindInvalidArgument, "the window length is not a power of two: %d", m.WindowLength)
	case m.OverSubtraction <= 0:
		return status.Errorf(status.KindInvalidArgument, "the over-subtraction factor is not positive: %v", m.OverSubtraction)
	case m.FloorGain < 0 || m.FloorGain > 1:
		return status.Errorf(status.KindInvalidArgument, "the floor gain is outside of [0, 1]: %v", m.FloorGain)
	case m.NoiseAttack <= 0 || m.NoiseAttack > 1:
		return status.Errorf(status.KindInvalidArgument, "the noise attack rate is outside of (0, 1]: %v", m.NoiseAttack)
	case m.NoiseRelease <= 0 || m.NoiseRelease > 1:
		return status.Errorf(status.KindInvalidArgument, "the noise release rate is outside of (0, 1]: %v", m.NoiseRelease)
	case m.GainSmoothing < 0 || m.GainSmoothing >= 1:
		return status.Errorf(status.KindInvalidArgument, "the gain smoothing factor is outside of [0, 1): %v", m.GainSmoothing)
	}
	return nil
}

// Write serializes the model.
func Write(w io.Writer, m *Model) error {
	if err := m.validate(); err != nil {
		return status.Wrap(err, "refusing to serialize an invalid model")
	}

	payload := make([]byte, 0, payloadSize)
	payload = append(payload, magic...)
	payload = binary.LittleEndian.AppendUint16(payload, formatVersion)
	payload = binary.LittleEndian.AppendUint32(payload, uint32(m.SampleRate))
	payload = binary.LittleEndian.AppendUint32(payload, uint32(m.FrameLength))
	payload = binary.LittleEndian.AppendUint32(payload, uint32(m.WindowLength))
	for _, v := range []float64{m.OverSubtraction, m.FloorGain, m.NoiseAttack, m.NoiseRelease, m.GainSmoothing} {
		payload = binary.LittleEndian.AppendUint64(payload, math.Float64bits(v))
	}

	if _, err := w.Write(payload); err != nil {
		return status.Errorf(status.KindIO, "unable to write the model payload: %v", err)
	}
	var trailer [4]byte
	binary.LittleEndian.PutUint32(trailer[:], crc32.ChecksumIEEE(payload))
	if _, err := w.Write(trailer[:]); err != nil {
		return status.Errorf(status.KindIO, "unable to write the model checksum: %v", err)
	}
	return nil
}

func parse(data []byte) (*Model, error) {
	if len(data) != payloadSize+4 {
		return nil, status.Errorf(status.KindInvalidArgument, "unexpected model size: %d != %d", len(data), payloadSize+4)
	}
	payload, trailer := data[:payloadSize], data[payloadSize:]
	if !bytes.Equal(payload[:4], []byte(magic)) {
		return nil, status.Errorf(status.KindInvalidArgument, "the file is not a model: bad magic")
	}
	if crc := crc32.ChecksumIEEE(payload); crc != binary.LittleEndian.Uint32(trailer) {
		return nil, status.Errorf(status.KindInvalidArgument, "the model is corrupt: checksum mismatch")
	}
	if version := binary.LittleEndian.Uint16(payload[4:]); version != formatVersion {
		return nil, status.Errorf(status.KindInvalidArgument, "unsupported model format version: %d", version)
	}

	m := &Model{
		SampleRate:   int(binary.LittleEndian.Uint32(payload[6:])),
		FrameLength:  int(binary.LittleEndian.Uint32(payload[10:])),
		WindowLength: int(binary.LittleEndian.Uint32(payload[14:])),
	}
	tuning := []*float64{&m.OverSubtraction, &m.FloorGain, &m.NoiseAttack, &m.NoiseRelease, &m.GainSmoothing}
	for idx, dst := range tuning {
		*dst = math.Float64frombits(binary.LittleEndian.Uint64(payload[18+idx*8:]))
	}
	if err := m.validate(); err != nil {
		return nil, status.Wrap(err, "the model contains invalid parameters")
	}
	return m, nil
}

var (
	cacheLocker sync.Mutex
	cache       = map[string]*Model{}
)

// Load reads and parses the model at the given path. Models are cached by
// their absolute path: two engines constructed on the same path share one
// read-only Model.
func Load(path string) (*Model, error) {
	cacheKey := path
	if abs, err := filepath.Abs(path); err == nil {
		cacheKey = abs
	}

	cacheLocker.Lock()
	defer cacheLocker.Unlock()
	if m, ok := cache[cacheKey]; ok {
		return m, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, status.Errorf(status.KindIO, "unable to read the model file at %q: %v", path, err)
	}
	m, err := parse(data)
	if err != nil {
		return nil, status.Wrap(err, "unable to parse the model file at %q", path)
	}
	cache[cacheKey] = m
	return m, nil
}
