package synth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/go-melnet-tts/internal/melnet"
	"github.com/example/go-melnet-tts/internal/metrics"
	"github.com/example/go-melnet-tts/internal/runtime/tensor"
	"github.com/example/go-melnet-tts/internal/text"
)

// scripted replays fixed termination values, one frame per step.
type scripted struct {
	term   [][]float32
	steps  int
	failAt int
	onStep func(int)
}

func (s *scripted) Step() (*melnet.SampleStep, error) {
	if s.failAt > 0 && s.steps == s.failAt {
		return nil, errors.New("boom")
	}

	i := s.steps
	s.steps++

	if s.onStep != nil {
		s.onStep(i)
	}

	return &melnet.SampleStep{Index: i, Termination: s.term[i]}, nil
}

func (s *scripted) Frames() (*tensor.Tensor, error) {
	return tensor.Zeros([]int64{1, 2, int64(s.steps)})
}

func (s *scripted) Done() bool { return s.steps >= len(s.term) }

func ramp(n int, values ...float32) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{values[min(i, len(values)-1)]}
	}

	return out
}

func TestGenerateStopsOnTermination(t *testing.T) {
	s := &scripted{term: ramp(10, 0.1, 0.2, 0.9, 0.95)}

	res, err := Generate(context.Background(), s, Policy{StopThreshold: 0.5})
	require.NoError(t, err)
	require.Equal(t, 3, res.Steps)
	require.Equal(t, ReasonTerminated, res.Reason)
	require.Equal(t, []int64{1, 2, 3}, res.Frames.Shape())
}

func TestGenerateHonoursMinStepsAndTail(t *testing.T) {
	s := &scripted{term: ramp(10, 0.9)}

	res, err := Generate(context.Background(), s, Policy{StopThreshold: 0.5, MinSteps: 4, FramesAfterStop: 2})
	require.NoError(t, err)
	require.Equal(t, 6, res.Steps)
	require.Equal(t, ReasonTerminated, res.Reason)
}

func TestGenerateWaitsForEveryRow(t *testing.T) {
	term := [][]float32{{0.9, 0.1}, {0.9, 0.2}, {0.9, 0.8}, {0.9, 0.9}}
	s := &scripted{term: term}

	res, err := Generate(context.Background(), s, Policy{StopThreshold: 0.5})
	require.NoError(t, err)
	require.Equal(t, 3, res.Steps)
}

func TestGenerateRunsToCapacity(t *testing.T) {
	var seen []int

	s := &scripted{term: ramp(5, 0.1)}
	g := metrics.NewGeneration()

	res, err := Generate(context.Background(), s, Policy{
		StopThreshold: 0.5,
		Metrics:       g,
		Observer:      func(info StepInfo) { seen = append(seen, info.Index) },
	})
	require.NoError(t, err)
	require.Equal(t, 5, res.Steps)
	require.Equal(t, ReasonMaxSteps, res.Reason)
	require.Equal(t, []int{0, 1, 2, 3, 4}, seen)
}

func TestGenerateCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &scripted{term: ramp(10, 0.1), onStep: func(i int) {
		if i == 1 {
			cancel()
		}
	}}

	_, err := Generate(ctx, s, Policy{})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 2, s.steps)
}

func TestGenerateErrors(t *testing.T) {
	_, err := Generate(context.Background(), &scripted{}, Policy{})
	require.ErrorIs(t, err, ErrNoFrames)

	_, err = Generate(context.Background(), &scripted{term: ramp(3, 0), failAt: 1}, Policy{})
	require.ErrorContains(t, err, "step 1")

	_, err = Generate(context.Background(), nil, Policy{})
	require.Error(t, err)
}

func TestGenerateWithModelSampler(t *testing.T) {
	hp := melnet.HParams{Hidden: 4, GMM: 2, AttentionGMM: 2, Layers: 2, NMels: 3, NSymbols: text.NumSymbols()}

	m, _, err := melnet.New(hp, 1)
	require.NoError(t, err)

	ids, err := text.Encode("hi")
	require.NoError(t, err)

	batch, lengths := text.PadBatch([][]int{ids})

	s, err := m.NewSampler(batch, lengths, 3)
	require.NoError(t, err)

	res, err := Generate(context.Background(), s, Policy{})
	require.NoError(t, err)
	require.Equal(t, 3, res.Steps)
	require.Equal(t, []int64{1, 3, 3}, res.Frames.Shape())
}
