package enhancer

import (
	"context"
	"fmt"
	"math/cmplx"
	"sync"

	"github.com/brettbuddin/fourier"
	"github.com/mjibson/go-dsp/window"
	"github.com/xaionaro-go/observability"

	"github.com/xaionaro-go/enhancer/pkg/audio"
	"github.com/xaionaro-go/enhancer/pkg/model"
)

// magEpsilon is the magnitude below which a bin is considered empty and is
// forced to the floor gain instead of dividing by a near-zero value.
const magEpsilon = 1e-12

// speechBinFactor: a bin counts towards the speech score when its magnitude
// stands this far above the tracked noise floor.
const speechBinFactor = 3.0

// kernel is the STFT spectral-gating suppressor: a Hann-windowed analysis of
// the last WindowLength input samples, a per-bin noise-floor tracker and gain
// curve, and overlap-add synthesis. The output stream lags the input by
// WindowLength-FrameLength samples.
//
// Everything here is deterministic: identical input sequences produce
// bit-identical output, regardless of the amount of workers.
type kernel struct {
	params  *model.Model
	workers int

	window  []float64
	olaNorm []float64

	history  []float64
	synth    []float64
	noise    []float64
	gain     []float64
	spectrum []complex128
	scratch  []complex128

	// per-worker partial sums of the speech score, merged in worker order
	speechEnergy []float64
	totalEnergy  []float64
}

func newKernel(params *model.Model, workers int) *kernel {
	n := params.WindowLength
	nBins := n/2 + 1
	if workers < 1 {
		workers = 1
	}
	if workers > nBins {
		workers = nBins
	}

	k := &kernel{
		params:       params,
		workers:      workers,
		window:       window.Hann(n),
		olaNorm:      make([]float64, params.FrameLength),
		history:      make([]float64, n),
		synth:        make([]float64, n),
		noise:        make([]float64, nBins),
		gain:         make([]float64, nBins),
		spectrum:     make([]complex128, n),
		scratch:      make([]complex128, n),
		speechEnergy: make([]float64, workers),
		totalEnergy:  make([]float64, workers),
	}

	// At 50% overlap every output sample is covered by exactly two window
	// positions; dividing by their sum makes a unity-gain kernel an exact
	// (delayed) passthrough.
	hop := params.FrameLength
	for i := 0; i < hop; i++ {
		k.olaNorm[i] = k.window[i] + k.window[i+hop]
		if k.olaNorm[i] < magEpsilon {
			k.olaNorm[i] = 1
		}
	}

	k.reset()
	return k
}

func (k *kernel) reset() {
	clear(k.history)
	clear(k.synth)
	clear(k.noise)
	for bin := range k.gain {
		k.gain[bin] = 1
	}
}

// processFrame consumes one input frame and emits the earliest
// not-yet-emitted enhanced frame. It returns the speech score of the analysis
// window: the fraction of spectral energy above the noise floor, in [0, 1].
func (k *kernel) processFrame(ctx context.Context, in []int16, out []int16) (float64, error) {
	n := k.params.WindowLength
	hop := k.params.FrameLength

	copy(k.history, k.history[hop:])
	for i, sample := range in {
		k.history[n-hop+i] = audio.SampleToFloat64(sample)
	}

	for i := range k.spectrum {
		k.spectrum[i] = complex(k.history[i]*k.window[i], 0)
	}
	if err := fourier.Forward(k.spectrum); err != nil {
		return 0, fmt.Errorf("unable to compute the forward transform: %w", err)
	}

	k.applyGains(ctx)

	var speech, total float64
	for workerIdx := 0; workerIdx < k.workers; workerIdx++ {
		speech += k.speechEnergy[workerIdx]
		total += k.totalEnergy[workerIdx]
	}
	score := 0.0
	if total > magEpsilon {
		score = speech / total
	}

	for i := range k.scratch {
		k.scratch[i] = cmplx.Conj(k.spectrum[i])
	}
	if err := fourier.Forward(k.scratch); err != nil {
		return 0, fmt.Errorf("unable to compute the inverse transform: %w", err)
	}
	invN := 1.0 / float64(n)
	for i := range k.synth {
		// ifft(X) = conj(fft(conj(X)))/N; only the real part is needed
		k.synth[i] += real(k.scratch[i]) * invN
	}

	for i := 0; i < hop; i++ {
		out[i] = audio.Float64ToSample(k.synth[i] / k.olaNorm[i])
	}
	copy(k.synth, k.synth[hop:])
	for i := n - hop; i < n; i++ {
		k.synth[i] = 0
	}

	return score, nil
}

// applyGains updates the per-bin noise floor and applies the suppression
// gain curve to the spectrum. With more than one worker the bins are split
// into disjoint contiguous ranges; bin b and its conjugate mirror n-b always
// belong to the same worker, so no two workers touch the same element.
func (k *kernel) applyGains(ctx context.Context) {
	nBins := len(k.noise)
	if k.workers <= 1 {
		k.speechEnergy[0], k.totalEnergy[0] = k.applyGainsRange(0, nBins)
		return
	}

	chunk := (nBins + k.workers - 1) / k.workers
	var wg sync.WaitGroup
	for workerIdx := 0; workerIdx < k.workers; workerIdx++ {
		begin := workerIdx * chunk
		end := begin + chunk
		if end > nBins {
			end = nBins
		}
		if begin >= end {
			k.speechEnergy[workerIdx], k.totalEnergy[workerIdx] = 0, 0
			continue
		}
		workerIdx := workerIdx
		wg.Add(1)
		observability.Go(ctx, func(ctx context.Context) {
			defer wg.Done()
			k.speechEnergy[workerIdx], k.totalEnergy[workerIdx] = k.applyGainsRange(begin, end)
		})
	}
	wg.Wait()
}

func (k *kernel) applyGainsRange(begin, end int) (speechEnergy, totalEnergy float64) {
	n := k.params.WindowLength
	for bin := begin; bin < end; bin++ {
		mag := cmplx.Abs(k.spectrum[bin])

		noise := k.noise[bin]
		if mag < noise {
			noise += k.params.NoiseAttack * (mag - noise)
		} else {
			noise += k.params.NoiseRelease * (mag - noise)
		}
		k.noise[bin] = noise

		raw := k.params.FloorGain
		if mag > magEpsilon {
			raw = 1 - k.params.OverSubtraction*noise/mag
			if raw < k.params.FloorGain {
				raw = k.params.FloorGain
			}
		}
		gain := k.params.GainSmoothing*k.gain[bin] + (1-k.params.GainSmoothing)*raw
		k.gain[bin] = gain

		k.spectrum[bin] *= complex(gain, 0)
		if bin > 0 && bin < n-bin {
			k.spectrum[n-bin] *= complex(gain, 0)
		}

		energy := mag * mag
		totalEnergy += energy
		if mag > speechBinFactor*noise {
			speechEnergy += energy
		}
	}
	return speechEnergy, totalEnergy
}
