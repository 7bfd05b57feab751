// Package enhancer implements voice-activity detection on top of the
// enhancement engine: the per-frame speech score of the engine is used as
// the voice confidence.
package enhancer

import (
	"context"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"

	"github.com/xaionaro-go/enhancer/pkg/enhancer"
	"github.com/xaionaro-go/enhancer/pkg/vad"
)

type VAD struct {
	Engine        *enhancer.Engine
	FrameDuration time.Duration
	Buffer        []int16
}

var _ vad.VAD = (*VAD)(nil)

func NewVAD(
	ctx context.Context,
	engine *enhancer.Engine,
) *VAD {
	frameDuration := time.Second * time.Duration(enhancer.FrameLength()) / time.Duration(enhancer.SampleRate())
	logger.Debugf(ctx, "frameDuration: %v", frameDuration)
	return &VAD{
		Engine:        engine,
		FrameDuration: frameDuration,
		Buffer:        make([]int16, enhancer.FrameLength()),
	}
}

func (v *VAD) Close() error {
	return v.Engine.Close()
}

func (v *VAD) FindNextVoice(
	ctx context.Context,
	samples []int16,
	confidenceThreshold float64,
	minDuration time.Duration,
) (float64, time.Duration, error) {
	if len(samples) == 0 {
		return 0, -1, nil
	}

	var maxConfidence float64
	var foundVoiceFor time.Duration
	firstVoiceDetection := time.Duration(-1)

	frameLength := enhancer.FrameLength()
	for pos := 0; ; pos++ {
		if len(samples) < frameLength {
			return maxConfidence, -1, nil
		}
		frame := samples[:frameLength]
		samples = samples[frameLength:]

		confidence, err := v.Engine.Process(ctx, frame, v.Buffer)
		if err != nil {
			return maxConfidence, -1, err
		}
		if confidence > maxConfidence {
			maxConfidence = confidence
		}

		if confidence >= confidenceThreshold {
			foundVoiceFor += v.FrameDuration
			if firstVoiceDetection < 0 {
				firstVoiceDetection = v.FrameDuration * time.Duration(pos)
			}
		}

		if foundVoiceFor >= minDuration {
			return maxConfidence, firstVoiceDetection, nil
		}
	}
}
