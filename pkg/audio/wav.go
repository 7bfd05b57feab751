package audio

import (
	"bytes"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DecodeWAV parses a RIFF/WAVE file containing 16-bit PCM and returns its
// sample rate and samples. Multi-channel files are rejected: the engine
// operates on single-channel audio.
func DecodeWAV(data []byte) (int, []int16, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return 0, nil, fmt.Errorf("the file is not a RIFF/WAVE file")
	}
	if dec.WavAudioFormat != 1 {
		return 0, nil, fmt.Errorf("only linear PCM is supported, got format %d", dec.WavAudioFormat)
	}
	if dec.NumChans != 1 {
		return 0, nil, fmt.Errorf("only single-channel audio is supported, got %d channels", dec.NumChans)
	}
	if dec.BitDepth != 16 {
		return 0, nil, fmt.Errorf("only 16-bit audio is supported, got %d bits", dec.BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil && err != io.EOF {
		return 0, nil, fmt.Errorf("unable to read the PCM data: %w", err)
	}
	if buf == nil {
		return 0, nil, fmt.Errorf("no PCM data found")
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	return int(dec.SampleRate), samples, nil
}

// WAVWriter streams 16-bit single-channel PCM into a WAVE file. The RIFF
// sizes are patched on Close.
type WAVWriter struct {
	enc *wav.Encoder
}

func NewWAVWriter(w io.WriteSeeker, sampleRate int) (*WAVWriter, error) {
	return &WAVWriter{
		enc: wav.NewEncoder(w, sampleRate, 16, 1, 1),
	}, nil
}

func (ww *WAVWriter) Write(samples []int16) error {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	err := ww.enc.Write(&goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: 1,
			SampleRate:  ww.enc.SampleRate,
		},
		SourceBitDepth: 16,
		Data:           data,
	})
	if err != nil {
		return fmt.Errorf("unable to write the samples: %w", err)
	}
	return nil
}

// Close rewrites the header with the final sizes. It does not close the
// underlying writer.
func (ww *WAVWriter) Close() error {
	if err := ww.enc.Close(); err != nil {
		return fmt.Errorf("unable to finalize the WAVE header: %w", err)
	}
	return nil
}
