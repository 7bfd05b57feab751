package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/gordonklaus/portaudio"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/datacounter"
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
	showDevicesFlag := pflag.Bool("show-audio-devices", false, "list the capture and inference devices and exit")
	accessKeyFlag := pflag.String("access-key", "", "the access key")
	modelFlag := pflag.String("model", "", "path to the model parameters file (empty: built-in defaults)")
	deviceFlag := pflag.String("device", "", "inference device: best | cpu | cpu:<N> | gpu | gpu:<N>")
	offlineFlag := pflag.Bool("offline", false, "validate the access key offline (no activation round-trip)")
	endpointFlag := pflag.String("activation-endpoint", "", "override the licensing service endpoint")
	outputFlag := pflag.String("output", "", "write the enhanced audio to this WAVE file instead of playing it back")
	pflag.Parse()

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

	assertNoError(portaudio.Initialize())
	defer portaudio.Terminate()

	if *showDevicesFlag {
		showDevices(ctx)
		return
	}

	ctx, cancelFunc := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancelFunc()

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

	assertNoError(run(ctx, e, *outputFlag))
}

func showDevices(ctx context.Context) {
	fmt.Println("inference devices:")
	for _, deviceID := range device.ListHardwareDevices() {
		fmt.Printf("  %s\n", deviceID)
	}

	devices, err := portaudio.Devices()
	assertNoError(err)
	fmt.Println("capture devices:")
	for idx, info := range devices {
		if info.MaxInputChannels < 1 {
			continue
		}
		logger.Debugf(ctx, "devices[%d]: %#+v", idx, info)
		fmt.Printf("  [%d] %s\n", idx, info.Name)
	}
}

func run(ctx context.Context, e *enhancer.Engine, outputPath string) (_err error) {
	sink, closeSink, err := newSink(ctx, outputPath)
	if err != nil {
		return fmt.Errorf("unable to initialize the output: %w", err)
	}
	defer func() {
		if err := closeSink(); err != nil {
			_err = multierror.Append(_err, err).ErrorOrNil()
		}
	}()

	wc := datacounter.NewWriterCounter(sink)
	observability.Go(ctx, func(ctx context.Context) {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				logger.Debugf(ctx, "written: %d", wc.Count())
			}
		}
	})

	in := make([]int16, enhancer.FrameLength())
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(enhancer.SampleRate()), enhancer.FrameLength(), in)
	if err != nil {
		return fmt.Errorf("unable to open the capture stream: %w", err)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			_err = multierror.Append(_err, fmt.Errorf("unable to close the capture stream: %w", err)).ErrorOrNil()
		}
	}()
	if err := stream.Start(); err != nil {
		return fmt.Errorf("unable to start the capture stream: %w", err)
	}

	logger.Infof(ctx, "enhancing (delay: %d samples); interrupt to stop", e.DelaySample())
	enhanced := make([]int16, enhancer.FrameLength())
	for {
		select {
		case <-ctx.Done():
			return stream.Stop()
		default:
		}

		if err := stream.Read(); err != nil {
			return fmt.Errorf("unable to read a frame from the microphone: %w", err)
		}
		if _, err := e.Process(ctx, in, enhanced); err != nil {
			return fmt.Errorf("unable to enhance a frame: %w", err)
		}
		if _, err := wc.Write(audio.SamplesToBytes(enhanced)); err != nil {
			return fmt.Errorf("unable to write a frame to the output: %w", err)
		}
	}
}

// newSink returns the byte sink for enhanced audio: a streaming WAVE file
// when outputPath is set, the default playback device otherwise.
func newSink(ctx context.Context, outputPath string) (io.Writer, func() error, error) {
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to create %q: %w", outputPath, err)
		}
		w, err := audio.NewWAVWriter(f, enhancer.SampleRate())
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		return &wavByteSink{w}, func() error {
			var mErr *multierror.Error
			if err := w.Close(); err != nil {
				mErr = multierror.Append(mErr, err)
			}
			if err := f.Close(); err != nil {
				mErr = multierror.Append(mErr, err)
			}
			return mErr.ErrorOrNil()
		}, nil
	}

	otoCtx, readyChan, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   enhancer.SampleRate(),
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("unable to get an oto context: %w", err)
	}
	<-readyChan

	pr, pw := io.Pipe()
	player := otoCtx.NewPlayer(pr)
	player.Play()
	logger.Debugf(ctx, "started the playback")
	return pw, func() error {
		var mErr *multierror.Error
		if err := pw.Close(); err != nil {
			mErr = multierror.Append(mErr, err)
		}
		if err := player.Close(); err != nil {
			mErr = multierror.Append(mErr, err)
		}
		return mErr.ErrorOrNil()
	}, nil
}

// wavByteSink adapts the sample-oriented WAVWriter to io.Writer so that the
// byte counter can sit in front of it.
type wavByteSink struct {
	w *audio.WAVWriter
}

func (s *wavByteSink) Write(b []byte) (int, error) {
	samples, err := audio.BytesToSamples(b)
	if err != nil {
		return 0, err
	}
	if err := s.w.Write(samples); err != nil {
		return 0, err
	}
	return len(b), nil
}

func assertNoError(err error) {
	if err != nil {
		panic(err)
	}
}
