package melnet

import (
	"errors"
	"fmt"

	"github.com/example/go-melnet-tts/internal/runtime/tensor"
)

// ErrBufferFull is returned by Step once the sampler has produced its
// maximum number of frames.
var ErrBufferFull = errors.New("melnet: sample buffer is full")

// Sampler generates mel frames autoregressively. The working buffer is
// [B, n_mels, 1+maxSteps]; column 0 is the zero go-frame and column i+1 holds
// the frame produced at step i. Every step replays the whole model over the
// history so far, so step i equals Forward over [f0, ..., f(i-1), 0].
//
// The frame being generated is all zeros on the frequency input: every bin of
// frame i is predicted in one pass without the lower-bin conditioning that
// Forward sees during training.
type Sampler struct {
	model   *Model
	memory  *tensor.Tensor
	lengths []int

	batch, mels, capacity int
	buffer                []float32
	steps                 int
}

// SampleStep is the result of one sampling step.
type SampleStep struct {
	Index       int
	Frame       [][]float32 // [B][n_mels], written to buffer column Index+1
	Termination []float32   // [B]
	Output      *Output
}

// NewSampler encodes the text once and prepares a buffer for up to maxSteps
// frames.
func (m *Model) NewSampler(ids [][]int, lengths []int, maxSteps int) (*Sampler, error) {
	if m == nil {
		return nil, errors.New("melnet: model is not initialized")
	}

	if maxSteps < 1 {
		return nil, fmt.Errorf("melnet: sampler needs maxSteps >= 1, got %d", maxSteps)
	}

	memory, err := m.Encode(ids, lengths)
	if err != nil {
		return nil, err
	}

	batch, mels := len(ids), m.hp.NMels

	return &Sampler{
		model:    m,
		memory:   memory,
		lengths:  append([]int(nil), lengths...),
		batch:    batch,
		mels:     mels,
		capacity: maxSteps,
		buffer:   make([]float32, batch*mels*(1+maxSteps)),
	}, nil
}

// Steps returns the number of frames produced so far.
func (s *Sampler) Steps() int { return s.steps }

// Done reports whether the buffer is full.
func (s *Sampler) Done() bool { return s.steps >= s.capacity }

// Step produces the next frame. A failed step leaves the buffer unchanged.
func (s *Sampler) Step() (*SampleStep, error) {
	if s == nil || s.model == nil {
		return nil, errors.New("melnet: sampler is not initialized")
	}

	if s.Done() {
		return nil, ErrBufferFull
	}

	i := s.steps

	buf, err := tensor.FromOwned(s.buffer, []int64{int64(s.batch), int64(s.mels), int64(1 + s.capacity)})
	if err != nil {
		return nil, err
	}

	xt, err := buf.Narrow(2, 0, int64(i+1))
	if err != nil {
		return nil, err
	}

	xf, err := buf.Narrow(2, 1, int64(i+1))
	if err != nil {
		return nil, err
	}

	if xf, err = xf.Shift(1, 1); err != nil {
		return nil, err
	}

	out, err := s.model.run(xt, xf, s.memory, s.lengths)
	if err != nil {
		return nil, fmt.Errorf("melnet: sample step %d: %w", i, err)
	}

	frame, err := MixtureMeans(out, i)
	if err != nil {
		return nil, fmt.Errorf("melnet: sample step %d: %w", i, err)
	}

	width := 1 + s.capacity
	for b, row := range frame {
		for bin, v := range row {
			s.buffer[(b*s.mels+bin)*width+i+1] = v
		}
	}

	s.steps++

	return &SampleStep{Index: i, Frame: frame, Termination: out.Termination, Output: out}, nil
}

// Frames returns the generated frames as [B, n_mels, Steps()].
func (s *Sampler) Frames() (*tensor.Tensor, error) {
	if s == nil {
		return nil, errors.New("melnet: sampler is not initialized")
	}

	if s.steps == 0 {
		return nil, errors.New("melnet: sampler has no frames")
	}

	buf, err := tensor.FromOwned(s.buffer, []int64{int64(s.batch), int64(s.mels), int64(1 + s.capacity)})
	if err != nil {
		return nil, err
	}

	return buf.Narrow(2, 1, int64(s.steps))
}
