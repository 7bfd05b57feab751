package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/jfreymuth/oggvorbis"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/observability"

	"github.com/xaionaro-go/enhancer/pkg/audio"
	"github.com/xaionaro-go/enhancer/pkg/device"
	"github.com/xaionaro-go/enhancer/pkg/enhancer"
	"github.com/xaionaro-go/enhancer/pkg/license"
	"github.com/xaionaro-go/enhancer/pkg/status"
)

func main() {
	loggerLevel := logger.LevelInfo
	pflag.Var(&loggerLevel, "log-level", "Log level")
	accessKeyFlag := pflag.String("access-key", "", "the access key")
	modelFlag := pflag.String("model", "", "path to the model parameters file (empty: built-in defaults)")
	deviceFlag := pflag.String("device", "", "inference device: best | cpu | cpu:<N> | gpu | gpu:<N>")
	offlineFlag := pflag.Bool("offline", false, "validate the access key offline (no activation round-trip)")
	endpointFlag := pflag.String("activation-endpoint", "", "override the licensing service endpoint")
	rawFlag := pflag.Bool("raw", false, "treat the input as headerless S16LE instead of guessing by extension")
	netPprofAddr := pflag.String("net-pprof-listen-addr", "", "an address to listen for incoming net/pprof connections")
	pflag.Parse()

	if pflag.NArg() != 2 {
		panic(fmt.Errorf("expected exactly two arguments: <input-file> <output-file>"))
	}

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

	if *netPprofAddr != "" {
		observability.Go(ctx, func(ctx context.Context) { l.Error(http.ListenAndServe(*netPprofAddr, nil)) })
	}

	logger.Debugf(ctx, "hardware devices: %s", spew.Sdump(device.ListHardwareDevices()))

	samples, err := readInput(pflag.Arg(0), *rawFlag)
	assertNoError(err)

	var validator license.Validator
	if *offlineFlag {
		validator = license.Offline{}
	} else {
		validator = license.NewClient(*endpointFlag)
	}

	e, err := enhancer.New(ctx, enhancer.Config{
		AccessKey: *accessKeyFlag,
		ModelPath: *modelFlag,
		Device:    *deviceFlag,
		Validator: validator,
	})
	if err != nil {
		var statusErr *status.Error
		if errors.As(err, &statusErr) {
			fmt.Fprintln(os.Stderr, statusErr.FormatStack())
		}
		panic(err)
	}
	defer e.Close()

	enhanced, err := enhanceAll(ctx, e, samples)
	assertNoError(err)

	logger.Infof(ctx, "RMS: %.4f -> %.4f (delay: %d samples)", audio.RMS(samples), audio.RMS(enhanced), e.DelaySample())

	out, err := os.Create(pflag.Arg(1))
	assertNoError(err)
	defer out.Close()
	w, err := audio.NewWAVWriter(out, enhancer.SampleRate())
	assertNoError(err)
	assertNoError(w.Write(enhanced))
	assertNoError(w.Close())
}

func readInput(path string, raw bool) ([]int16, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read %q: %w", path, err)
	}

	if raw {
		return audio.BytesToSamples(data)
	}

	switch {
	case strings.HasSuffix(path, ".wav"):
		sampleRate, samples, err := audio.DecodeWAV(data)
		if err != nil {
			return nil, fmt.Errorf("unable to decode %q: %w", path, err)
		}
		if sampleRate != enhancer.SampleRate() {
			return nil, fmt.Errorf("the input sample rate is not supported: %d != %d", sampleRate, enhancer.SampleRate())
		}
		return samples, nil
	case strings.HasSuffix(path, ".ogg"):
		return readVorbis(data)
	default:
		return audio.BytesToSamples(data)
	}
}

func readVorbis(data []byte) ([]int16, error) {
	oggReader, err := oggvorbis.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unable to initialize a vorbis reader: %w", err)
	}
	if oggReader.SampleRate() != enhancer.SampleRate() {
		return nil, fmt.Errorf("the input sample rate is not supported: %d != %d", oggReader.SampleRate(), enhancer.SampleRate())
	}
	if oggReader.Channels() != 1 {
		return nil, fmt.Errorf("only single-channel audio is supported, got %d channels", oggReader.Channels())
	}

	var samples []int16
	buf := make([]float32, 4096)
	for {
		n, err := oggReader.Read(buf)
		for _, v := range buf[:n] {
			samples = append(samples, audio.Float64ToSample(float64(v)))
		}
		if err == io.EOF {
			return samples, nil
		}
		if err != nil {
			return nil, fmt.Errorf("unable to decode the vorbis stream: %w", err)
		}
	}
}

// enhanceAll streams the whole recording through the engine and compensates
// for the output delay: it returns exactly len(samples) enhanced samples
// aligned with the input.
func enhanceAll(ctx context.Context, e *enhancer.Engine, samples []int16) ([]int16, error) {
	frameLength := enhancer.FrameLength()
	delay := e.DelaySample()

	numSamples := len(samples)
	paddedLen := numSamples
	if tail := numSamples % frameLength; tail != 0 {
		paddedLen += frameLength - tail
	}
	// extra zero frames flush the delayed tail out of the engine
	flushFrames := (delay + frameLength - 1) / frameLength
	paddedLen += flushFrames * frameLength
	padded := make([]int16, paddedLen)
	copy(padded, samples)

	out := make([]int16, 0, len(padded))
	enhanced := make([]int16, frameLength)
	for frameStart := 0; frameStart < len(padded); frameStart += frameLength {
		if _, err := e.Process(ctx, padded[frameStart:frameStart+frameLength], enhanced); err != nil {
			return nil, fmt.Errorf("unable to enhance the frame at sample %d: %w", frameStart, err)
		}
		out = append(out, enhanced...)
	}

	return out[delay : delay+numSamples], nil
}

func assertNoError(err error) {
	if err != nil {
		panic(err)
	}
}
