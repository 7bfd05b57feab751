// Package enhancer implements a streaming speech-enhancement engine: it
// consumes a continuous stream of fixed-length frames of single-channel
// 16-bit PCM and produces fixed-length frames of enhanced PCM, delayed by
// DelaySample() samples.
//
// An Engine is single-owner: exactly one goroutine may call Process/Reset at
// a time (the engine serializes them internally), and after Close the
// instance is dead. Multiple engines are fully independent.
package enhancer

import (
	"context"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"

	"github.com/xaionaro-go/enhancer/pkg/device"
	"github.com/xaionaro-go/enhancer/pkg/license"
	"github.com/xaionaro-go/enhancer/pkg/model"
	"github.com/xaionaro-go/enhancer/pkg/status"
)

const version = "1.2.0"

// Engine-wide constants. Models are validated against these at construction,
// so every Engine in a process agrees on them.
const (
	frameLength = 256
	sampleRate  = 16000
)

// Version returns the engine version.
func Version() string {
	return version
}

// FrameLength returns the amount of samples in every input and output frame.
func FrameLength() int {
	return frameLength
}

// SampleRate returns the sample rate of the audio the engine operates on.
func SampleRate() int {
	return sampleRate
}

// Config is the construction-time configuration of an Engine.
type Config struct {
	// AccessKey is the credential validated at construction. Mandatory.
	AccessKey string

	// ModelPath points to a parameter blob on the filesystem. An empty
	// path selects the built-in default parameters.
	ModelPath string

	// Device selects the inference target: "best", "cpu", "cpu:<N>",
	// "gpu" or "gpu:<N>". An empty string is equivalent to "cpu".
	Device string

	// Validator overrides how the access key is activated. When nil, the
	// licensing-service HTTP client is used; the activation round-trip
	// may block on the network, so construct engines off the
	// latency-critical path.
	Validator license.Validator
}

// Engine is a single instance of the enhancement engine.
type Engine struct {
	processLocker sync.Mutex
	kern          *kernel
	params        *model.Model
	deviceSpec    device.Spec
	accessKey     string
	validator     license.Validator
	lease         license.Lease
	closed        bool

	lastErrLocker sync.Mutex
	lastErr       *status.Error
}

// New constructs an Engine in the ready state, with its delay already
// computed and queryable.
func New(ctx context.Context, cfg Config) (_ *Engine, _err error) {
	logger.Tracef(ctx, "New")
	defer func() { logger.Tracef(ctx, "/New: %v", _err) }()

	deviceSpec, err := device.Parse(cfg.Device)
	if err != nil {
		return nil, status.Wrap(err, "unable to parse the device specification")
	}
	switch deviceSpec.Kind {
	case device.KindGPU:
		return nil, status.Errorf(status.KindRuntime, "no GPU inference device is available in this build (requested %q)", cfg.Device)
	case device.KindBest:
		// the CPU path is the only one available, so "best" resolves to it
		deviceSpec = device.Spec{Kind: device.KindCPU}
	}

	validator := cfg.Validator
	if validator == nil {
		validator = license.NewClient("")
	}
	lease, err := validator.Activate(ctx, cfg.AccessKey)
	if err != nil {
		return nil, status.Wrap(err, "unable to activate the access key")
	}

	params := model.Default()
	if cfg.ModelPath != "" {
		params, err = model.Load(cfg.ModelPath)
		if err != nil {
			return nil, status.Wrap(err, "unable to load the model")
		}
	}
	if params.SampleRate != sampleRate {
		return nil, status.Errorf(status.KindInvalidArgument, "the model sample rate does not match the engine build: %d != %d", params.SampleRate, sampleRate)
	}
	if params.FrameLength != frameLength {
		return nil, status.Errorf(status.KindInvalidArgument, "the model frame length does not match the engine build: %d != %d", params.FrameLength, frameLength)
	}

	workers := deviceSpec.Threads()
	logger.Debugf(ctx, "constructing an engine: device:%s, workers:%d, model:%q", deviceSpec, workers, cfg.ModelPath)

	return &Engine{
		kern:       newKernel(params, workers),
		params:     params,
		deviceSpec: deviceSpec,
		accessKey:  cfg.AccessKey,
		validator:  validator,
		lease:      lease,
	}, nil
}

// DelaySample returns the amount of samples by which the output stream lags
// the input stream. It is fixed for the lifetime of the instance.
func (e *Engine) DelaySample() int {
	return e.params.WindowLength - e.params.FrameLength
}

// Process consumes one frame of exactly FrameLength() samples and writes the
// earliest not-yet-emitted enhanced frame into `enhanced` (same length). The
// returned value is the speech score of the consumed frame, in [0, 1].
//
// Frames must be temporally contiguous samples of one continuous recording;
// on a discontinuity (a gap, a seek, a new recording) call Reset first, or
// the output will contain enhancement artifacts around the discontinuity.
//
// On failure no output is produced and the internal state is unchanged.
func (e *Engine) Process(ctx context.Context, pcm []int16, enhanced []int16) (_ float64, _err error) {
	logger.Tracef(ctx, "Process, len:%d", len(pcm))
	defer func() { logger.Tracef(ctx, "/Process: %v", _err) }()

	e.processLocker.Lock()
	defer e.processLocker.Unlock()

	if e.closed {
		return 0, e.fail(status.Errorf(status.KindInvalidState, "the engine is deleted"))
	}
	if len(pcm) != e.params.FrameLength {
		return 0, e.fail(status.Errorf(status.KindInvalidArgument, "the input frame length is invalid: %d != %d", len(pcm), e.params.FrameLength))
	}
	if len(enhanced) != e.params.FrameLength {
		return 0, e.fail(status.Errorf(status.KindInvalidArgument, "the output frame length is invalid: %d != %d", len(enhanced), e.params.FrameLength))
	}

	if !e.lease.Valid(time.Now()) {
		logger.Debugf(ctx, "the license lease expired, re-activating")
		lease, err := e.validator.Activate(ctx, e.accessKey)
		if err != nil {
			return 0, e.fail(status.Wrap(err, "unable to renew the license lease"))
		}
		e.lease = lease
	}

	score, err := e.kern.processFrame(ctx, pcm, enhanced)
	if err != nil {
		return 0, e.fail(status.Wrap(err, "unable to enhance the frame"))
	}
	return score, nil
}

// Reset discards all buffered history: subsequent Process calls behave as if
// the engine were newly constructed. The model and the credential are kept.
func (e *Engine) Reset(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "Reset")
	defer func() { logger.Tracef(ctx, "/Reset: %v", _err) }()

	e.processLocker.Lock()
	defer e.processLocker.Unlock()
	if e.closed {
		return e.fail(status.Errorf(status.KindInvalidState, "the engine is deleted"))
	}
	e.kern.reset()
	return nil
}

// Close releases the engine's resources. Calling it a second time is an
// error.
func (e *Engine) Close() error {
	e.processLocker.Lock()
	defer e.processLocker.Unlock()
	if e.closed {
		return status.Errorf(status.KindInvalidState, "double-free attempt")
	}
	e.closed = true
	e.kern = nil
	return nil
}

// ErrorStack returns a copy of the diagnostic stack of the most recent
// failing call on this instance (nil if none failed yet). The stack is
// overwritten, not appended, by every subsequent failure.
func (e *Engine) ErrorStack() []string {
	e.lastErrLocker.Lock()
	defer e.lastErrLocker.Unlock()
	if e.lastErr == nil {
		return nil
	}
	return e.lastErr.Messages()
}

func (e *Engine) fail(err *status.Error) *status.Error {
	e.lastErrLocker.Lock()
	defer e.lastErrLocker.Unlock()
	e.lastErr = err
	return err
}
