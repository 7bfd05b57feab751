// Package enhancerstream adapts the frame-based engine to io.Reader
// streaming: it pulls raw S16LE audio from an input reader, feeds it to the
// engine in whole frames and exposes the delayed enhanced audio as another
// reader.
package enhancerstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/iamcalledrob/circular"
	"github.com/xaionaro-go/observability"

	"github.com/xaionaro-go/enhancer/pkg/audio"
	"github.com/xaionaro-go/enhancer/pkg/enhancer"
)

// EnhancerStream pumps a continuous recording through an enhancer.Engine.
//
// All Process calls happen on one internal goroutine, so the stream is the
// sole owner of the engine for its lifetime; do not call Process/Reset on
// the engine while a stream is attached to it.
type EnhancerStream struct {
	engine *enhancer.Engine

	inputBufferLocker  sync.Mutex
	inputBuffer        *circular.Buffer
	outputBufferLocker sync.Mutex
	outputBuffer       *circular.Buffer
	resultError        error
	readCtx            context.Context
	cancelFunc         context.CancelFunc

	readProgressedCh          chan struct{}
	enhanceInputProgressedCh  chan struct{}
	enhanceOutputProgressedCh chan struct{}
	outputProgressedCh        chan struct{}
}

var _ io.Reader = (*EnhancerStream)(nil)

// NewEnhancerStream starts pumping `input` through `engine`. Buffer sizes are
// in bytes; they must hold at least one frame.
func NewEnhancerStream(
	ctx context.Context,
	input io.Reader,
	engine *enhancer.Engine,
	inputBufferSize uint,
	outputBufferSize uint,
) (*EnhancerStream, error) {
	frameBytes := uint(enhancer.FrameLength() * audio.BytesPerSample)
	if inputBufferSize < frameBytes || outputBufferSize < frameBytes {
		return nil, fmt.Errorf("buffer sizes must hold at least one frame: %d bytes", frameBytes)
	}

	ctx, cancelFunc := context.WithCancel(ctx)
	s := &EnhancerStream{
		engine:       engine,
		inputBuffer:  circular.NewBuffer(int(inputBufferSize)),
		outputBuffer: circular.NewBuffer(int(outputBufferSize)),
		readCtx:      ctx,
		cancelFunc:   cancelFunc,

		readProgressedCh:          make(chan struct{}),
		enhanceInputProgressedCh:  make(chan struct{}),
		enhanceOutputProgressedCh: make(chan struct{}),
		outputProgressedCh:        make(chan struct{}),
	}
	observability.Go(ctx, func(ctx context.Context) {
		defer cancelFunc()
		err := s.readerLoop(ctx, input)
		s.setResultError(fmt.Errorf("got an error from the reader loop: %w", err))
	})
	observability.Go(ctx, func(ctx context.Context) {
		defer cancelFunc()
		err := s.enhanceLoop(ctx)
		s.setResultError(fmt.Errorf("got an error from the enhancer loop: %w", err))
	})
	return s, nil
}

func (s *EnhancerStream) setResultError(err error) {
	s.outputBufferLocker.Lock()
	defer s.outputBufferLocker.Unlock()
	if s.resultError == nil {
		s.resultError = err
	}
	// wake up a Read blocked on new output
	oldCh := s.enhanceOutputProgressedCh
	s.enhanceOutputProgressedCh = make(chan struct{})
	close(oldCh)
}

func (s *EnhancerStream) readerLoop(
	ctx context.Context,
	input io.Reader,
) (_err error) {
	logger.Tracef(ctx, "readerLoop")
	defer func() { logger.Tracef(ctx, "/readerLoop: %v", _err) }()

	readBuf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := input.Read(readBuf)
		if err != nil {
			return fmt.Errorf("unable to read the input: %w", err)
		}

		if err := func() error {
			s.inputBufferLocker.Lock()
			defer s.inputBufferLocker.Unlock()
			chunk := readBuf[:n]
			for len(chunk) > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				w, err := s.inputBuffer.Write(chunk)
				if err != nil {
					if errors.Is(err, circular.ErrNoSpace) {
						s.waitForEnhanceInputProgressed(ctx)
						continue
					}
					return fmt.Errorf("unable to write to the circular buffer: %w", err)
				}
				chunk = chunk[w:]
			}
			oldCh := s.readProgressedCh
			s.readProgressedCh = make(chan struct{})
			close(oldCh)
			return nil
		}(); err != nil {
			return err
		}
	}
}

// expects inputBufferLocker to be held
func (s *EnhancerStream) waitForEnhanceInputProgressed(ctx context.Context) {
	ch := s.enhanceInputProgressedCh
	s.inputBufferLocker.Unlock()
	defer s.inputBufferLocker.Lock()
	select {
	case <-ctx.Done():
	case <-ch:
	}
}

func (s *EnhancerStream) enhanceLoop(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "enhanceLoop")
	defer func() { logger.Tracef(ctx, "/enhanceLoop: %v", _err) }()

	frameBytes := enhancer.FrameLength() * audio.BytesPerSample
	inputBuf := make([]byte, frameBytes)
	enhanced := make([]int16, enhancer.FrameLength())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := s.receiveFrame(ctx, inputBuf); err != nil {
			return err
		}

		frame, err := audio.BytesToSamples(inputBuf)
		if err != nil {
			return fmt.Errorf("unable to parse the input frame: %w", err)
		}
		if _, err := s.engine.Process(ctx, frame, enhanced); err != nil {
			return fmt.Errorf("unable to enhance: %w", err)
		}

		if err := s.emitFrame(ctx, audio.SamplesToBytes(enhanced)); err != nil {
			return err
		}
	}
}

// receiveFrame blocks until a whole frame has been read from the input
// buffer.
func (s *EnhancerStream) receiveFrame(ctx context.Context, inputBuf []byte) error {
	receivedCount := 0
	for {
		var waitCh chan struct{}
		if err := func() error {
			s.inputBufferLocker.Lock()
			defer s.inputBufferLocker.Unlock()
			n, err := s.inputBuffer.Read(inputBuf[receivedCount:])
			waitCh = s.readProgressedCh
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("unable to read from the circular buffer: %w", err)
			}
			receivedCount += n
			if n > 0 {
				oldCh := s.enhanceInputProgressedCh
				s.enhanceInputProgressedCh = make(chan struct{})
				close(oldCh)
			}
			return nil
		}(); err != nil {
			return err
		}
		if receivedCount >= len(inputBuf) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-waitCh:
		}
	}
}

// emitFrame blocks until the whole enhanced frame has been written to the
// output buffer.
func (s *EnhancerStream) emitFrame(ctx context.Context, outBytes []byte) error {
	s.outputBufferLocker.Lock()
	defer s.outputBufferLocker.Unlock()
	for len(outBytes) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		w, err := s.outputBuffer.Write(outBytes)
		if err != nil {
			if errors.Is(err, circular.ErrNoSpace) {
				s.waitForOutputProgressed(ctx)
				continue
			}
			return fmt.Errorf("unable to write to the circular buffer: %w", err)
		}
		outBytes = outBytes[w:]
	}
	oldCh := s.enhanceOutputProgressedCh
	s.enhanceOutputProgressedCh = make(chan struct{})
	close(oldCh)
	return nil
}

// expects outputBufferLocker to be held
func (s *EnhancerStream) waitForOutputProgressed(ctx context.Context) {
	ch := s.outputProgressedCh
	s.outputBufferLocker.Unlock()
	defer s.outputBufferLocker.Lock()
	select {
	case <-ctx.Done():
	case <-ch:
	}
}

// Read returns enhanced S16LE audio. It blocks until at least one byte is
// available or the stream has failed.
func (s *EnhancerStream) Read(pcm []byte) (_ret int, _err error) {
	logger.Tracef(s.readCtx, "Read, len:%d", len(pcm))
	defer func() { logger.Tracef(s.readCtx, "/Read: %d, %v", _ret, _err) }()

	s.outputBufferLocker.Lock()
	defer s.outputBufferLocker.Unlock()

	for {
		n, err := s.outputBuffer.Read(pcm)
		if err == nil {
			oldCh := s.outputProgressedCh
			s.outputProgressedCh = make(chan struct{})
			close(oldCh)
			return n, nil
		}
		if !errors.Is(err, io.EOF) {
			return n, err
		}
		if s.resultError != nil {
			return 0, s.resultError
		}
		s.waitForEnhanceOutputProgressed()
	}
}

// expects outputBufferLocker to be held
func (s *EnhancerStream) waitForEnhanceOutputProgressed() {
	ch := s.enhanceOutputProgressedCh
	s.outputBufferLocker.Unlock()
	defer s.outputBufferLocker.Lock()
	select {
	case <-s.readCtx.Done():
	case <-ch:
	}
}

// Close stops the pump goroutines and closes the engine.
func (s *EnhancerStream) Close() error {
	var mErr *multierror.Error
	s.cancelFunc()
	if err := s.engine.Close(); err != nil {
		mErr = multierror.Append(mErr, fmt.Errorf("unable to close the engine: %w", err))
	}
	return mErr.ErrorOrNil()
}
