// Package vad defines the voice-activity-detection interface of this module.
package vad

import (
	"context"
	"io"
	"time"
)

type VAD interface {
	io.Closer

	// FindNextVoice scans the samples for voice activity. It returns the
	// highest speech confidence seen, and the offset of the first chunk
	// whose confidence reached confidenceThreshold, once such chunks have
	// accumulated minDuration of voice (-1 if they never did).
	FindNextVoice(
		_ context.Context,
		samples []int16,
		confidenceThreshold float64,
		minDuration time.Duration,
	) (float64, time.Duration, error)
}
