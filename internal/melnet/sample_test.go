package melnet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/go-melnet-tts/internal/runtime/tensor"
)

func TestSamplerSelfConsistency(t *testing.T) {
	hp := smallHParams()
	m, _ := newTestModel(t, hp, 9)

	ids, lengths := encodeBatch(t, "one.", "two words")

	s, err := m.NewSampler(ids, lengths, 4)
	require.NoError(t, err)

	var steps []*SampleStep

	for !s.Done() {
		step, err := s.Step()
		require.NoError(t, err)
		require.Equal(t, len(steps), step.Index)
		require.Len(t, step.Termination, 2)
		require.Equal(t, int64(step.Index+1), step.Output.Mu.Dim(2))

		means, err := MixtureMeans(step.Output, step.Index)
		require.NoError(t, err)
		require.Equal(t, means, step.Frame)

		steps = append(steps, step)
	}

	require.Equal(t, 4, s.Steps())

	_, err = s.Step()
	require.True(t, errors.Is(err, ErrBufferFull))

	frames, err := s.Frames()
	require.NoError(t, err)
	require.Equal(t, []int64{2, int64(hp.NMels), 4}, frames.Shape())

	data := frames.Data()
	for i, step := range steps {
		for b, row := range step.Frame {
			for bin, v := range row {
				require.Equal(t, v, data[(b*hp.NMels+bin)*4+i], "frame %d row %d bin %d", i, b, bin)
			}
		}
	}
}

func TestSamplerFirstStepUsesGoFrame(t *testing.T) {
	hp := smallHParams()
	m, _ := newTestModel(t, hp, 10)
	ids, lengths := encodeBatch(t, "a b")

	s, err := m.NewSampler(ids, lengths, 2)
	require.NoError(t, err)

	step, err := s.Step()
	require.NoError(t, err)

	zeros, err := m.Forward(mustZeros(t, 1, int64(hp.NMels), 1), ids, lengths)
	require.NoError(t, err)

	requireClose(t, zeros.Mu.Data(), step.Output.Mu.Data())
	requireClose(t, zeros.Termination, step.Termination)
}

// Step i equals the teacher-forced pass over the frames generated so far
// followed by an all-zero current frame.
func TestSamplerStepMatchesForwardOverPrefix(t *testing.T) {
	hp := smallHParams()
	m, _ := newTestModel(t, hp, 11)
	ids, lengths := encodeBatch(t, "hi there", "ok.")

	const steps = 4

	s, err := m.NewSampler(ids, lengths, steps)
	require.NoError(t, err)

	batch, mels := len(ids), hp.NMels
	frames := make([][][]float32, 0, steps) // [step][B][n_mels]

	for i := range steps {
		step, err := s.Step()
		require.NoError(t, err)

		x := make([]float32, batch*mels*(i+1))
		for j, frame := range frames {
			for b, row := range frame {
				for bin, v := range row {
					x[(b*mels+bin)*(i+1)+j] = v
				}
			}
		}

		prefix, err := tensor.FromOwned(x, []int64{int64(batch), int64(mels), int64(i + 1)})
		require.NoError(t, err)

		want, err := m.Forward(prefix, ids, lengths)
		require.NoError(t, err)

		requireClose(t, want.Mu.Data(), step.Output.Mu.Data())
		requireClose(t, want.Std.Data(), step.Output.Std.Data())
		requireClose(t, want.Pi.Data(), step.Output.Pi.Data())
		requireClose(t, want.Termination, step.Termination)

		means, err := MixtureMeans(want, i)
		require.NoError(t, err)

		for b := range means {
			requireClose(t, means[b], step.Frame[b])
		}

		frames = append(frames, step.Frame)
	}
}

func TestSamplerErrors(t *testing.T) {
	m, _ := newTestModel(t, smallHParams(), 1)
	ids, lengths := encodeBatch(t, "a")

	_, err := m.NewSampler(ids, lengths, 0)
	require.Error(t, err)

	s, err := m.NewSampler(ids, lengths, 1)
	require.NoError(t, err)

	_, err = s.Frames()
	require.Error(t, err)
}
