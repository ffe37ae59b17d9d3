// Package synth drives autoregressive mel generation: it owns the stopping
// policy, cancellation and progress reporting around a step-wise sampler.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/example/go-melnet-tts/internal/melnet"
	"github.com/example/go-melnet-tts/internal/metrics"
	"github.com/example/go-melnet-tts/internal/runtime/tensor"
)

// ErrNoFrames is returned when generation stops before producing a frame.
var ErrNoFrames = errors.New("synth: no frames generated")

// Stop reasons reported in Result and metrics.
const (
	ReasonTerminated = "terminated"
	ReasonMaxSteps   = "max_steps"
)

// Sampler is the step-wise generator driven by Generate.
type Sampler interface {
	Step() (*melnet.SampleStep, error)
	Frames() (*tensor.Tensor, error)
	Done() bool
}

// StepInfo is passed to Policy.Observer after every step.
type StepInfo struct {
	Index       int
	Termination []float32
	Elapsed     time.Duration
}

type Policy struct {
	// MinSteps suppresses stopping before this many frames.
	MinSteps int
	// StopThreshold ends generation once every row's termination signal
	// reaches it. Values <= 0 disable termination-based stopping.
	StopThreshold float64
	// FramesAfterStop extra frames are generated after the stop condition
	// first holds.
	FramesAfterStop int
	Observer        func(StepInfo)
	Metrics         *metrics.Generation
}

type Result struct {
	Frames *tensor.Tensor // [B, n_mels, Steps]
	Steps  int
	Reason string
}

// Generate steps s until the policy stops it, the sampler is full or ctx is
// cancelled. On cancellation the context error is returned; frames produced
// so far remain readable from s.
func Generate(ctx context.Context, s Sampler, p Policy) (*Result, error) {
	if s == nil {
		return nil, errors.New("synth: nil sampler")
	}

	start := time.Now()
	steps := 0
	reason := ReasonMaxSteps
	countdown := -1

	slog.Debug("generation start", "min_steps", p.MinSteps, "stop_threshold", p.StopThreshold)

	for !s.Done() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		stepStart := time.Now()

		step, err := s.Step()
		if err != nil {
			return nil, fmt.Errorf("synth: step %d: %w", steps, err)
		}

		steps++
		elapsed := time.Since(stepStart)
		low := minTermination(step.Termination)

		p.Metrics.ObserveStep(elapsed, low)

		if p.Observer != nil {
			p.Observer(StepInfo{Index: step.Index, Termination: slices.Clone(step.Termination), Elapsed: elapsed})
		}

		if steps%10 == 0 {
			slog.Debug("generation progress", "step", steps, "termination", low)
		}

		if countdown < 0 && p.shouldStop(steps, low) {
			countdown = p.FramesAfterStop
			slog.Debug("termination detected", "step", step.Index, "frames_after_stop", countdown)
		}

		if countdown >= 0 {
			if countdown == 0 {
				reason = ReasonTerminated
				break
			}

			countdown--
		}
	}

	if steps == 0 {
		return nil, ErrNoFrames
	}

	frames, err := s.Frames()
	if err != nil {
		return nil, fmt.Errorf("synth: collect frames: %w", err)
	}

	p.Metrics.ObserveRun(reason, steps)
	slog.Debug("generation complete", "steps", steps, "reason", reason, "ms", time.Since(start).Milliseconds())

	return &Result{Frames: frames, Steps: steps, Reason: reason}, nil
}

func (p Policy) shouldStop(steps int, termination float64) bool {
	return p.StopThreshold > 0 && steps >= p.MinSteps && termination >= p.StopThreshold
}

func minTermination(term []float32) float64 {
	if len(term) == 0 {
		return 0
	}

	return float64(slices.Min(term))
}
