package melnet

import (
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/example/go-melnet-tts/internal/runtime/ops"
	"github.com/example/go-melnet-tts/internal/runtime/tensor"
)

type Linear struct {
	Weight *tensor.Tensor // [out, in]
	Bias   *tensor.Tensor // optional [out]
}

func loadLinear(vb *VarBuilder, name string, in, out int64, withBias bool) (*Linear, error) {
	return loadLinearInit(vb, name, in, out, withBias, nil)
}

// loadLinearInit is loadLinear with an override for the bias initialiser.
func loadLinearInit(vb *VarBuilder, name string, in, out int64, withBias bool, biasInit Init) (*Linear, error) {
	bound := fanBound(in)

	w, err := vb.Get(name+".weight", Uniform(bound), out, in)
	if err != nil {
		return nil, err
	}

	l := &Linear{Weight: w}
	if !withBias {
		return l, nil
	}

	if biasInit == nil {
		biasInit = Uniform(bound)
	}

	l.Bias, err = vb.Get(name+".bias", biasInit, out)
	if err != nil {
		return nil, err
	}

	return l, nil
}

func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if l == nil || l.Weight == nil {
		return nil, errors.New("melnet: linear is not initialized")
	}

	return tensor.Linear(x, l.Weight, l.Bias)
}

// Embedding is a lookup table of shape [n, dim].
type Embedding struct {
	weight *tensor.Tensor
	dim    int64
}

func loadEmbedding(vb *VarBuilder, name string, n, dim int64) (*Embedding, error) {
	w, err := vb.Get(name+".weight", Normal(1), n, dim)
	if err != nil {
		return nil, err
	}

	return &Embedding{weight: w, dim: dim}, nil
}

// Forward maps padded ids [B][T] to [B, T, dim].
func (e *Embedding) Forward(ids [][]int) (*tensor.Tensor, error) {
	if e == nil || e.weight == nil {
		return nil, errors.New("melnet: embedding is not initialized")
	}

	if len(ids) == 0 {
		return nil, errors.New("melnet: embedding needs at least one row")
	}

	steps := len(ids[0])
	n := e.weight.Dim(0)
	flat := make([]int64, 0, len(ids)*steps)

	for b, row := range ids {
		if len(row) != steps {
			return nil, fmt.Errorf("melnet: embedding row %d has %d ids, want %d", b, len(row), steps)
		}

		for t, id := range row {
			if id < 0 || int64(id) >= n {
				return nil, fmt.Errorf("melnet: embedding id [%d,%d] (%d) out of range [0,%d)", b, t, id, n)
			}

			flat = append(flat, int64(id))
		}
	}

	g, err := e.weight.Gather(0, flat)
	if err != nil {
		return nil, fmt.Errorf("melnet: embedding gather: %w", err)
	}

	return g.Reshape([]int64{int64(len(ids)), int64(steps), e.dim})
}

func loadCell(vb *VarBuilder, suffix string, gates, in, hidden int64) (ops.CellWeights, error) {
	init := Uniform(fanBound(hidden))

	var (
		w   ops.CellWeights
		err error
	)

	if w.InputWeight, err = vb.Get("weight_ih"+suffix, init, gates*hidden, in); err != nil {
		return w, err
	}

	if w.HiddenWeight, err = vb.Get("weight_hh"+suffix, init, gates*hidden, hidden); err != nil {
		return w, err
	}

	if w.InputBias, err = vb.Get("bias_ih"+suffix, init, gates*hidden); err != nil {
		return w, err
	}

	if w.HiddenBias, err = vb.Get("bias_hh"+suffix, init, gates*hidden); err != nil {
		return w, err
	}

	return w, nil
}

// LSTMCell is a single-step LSTM with PyTorch parameter names
// (weight_ih, weight_hh, bias_ih, bias_hh).
type LSTMCell struct {
	w      ops.CellWeights
	hidden int64
}

func loadLSTMCell(vb *VarBuilder, in, hidden int64) (*LSTMCell, error) {
	w, err := loadCell(vb, "", 4, in, hidden)
	if err != nil {
		return nil, err
	}

	return &LSTMCell{w: w, hidden: hidden}, nil
}

func (c *LSTMCell) Step(x, h, cell *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if c == nil {
		return nil, nil, errors.New("melnet: lstm cell is not initialized")
	}

	return ops.LSTMCell(x, h, cell, c.w)
}

type cellKind int

const (
	gruCell cellKind = iota
	lstmCell
)

// RNN is a single-layer, batch-first GRU or LSTM, optionally bidirectional,
// with PyTorch parameter names (weight_ih_l0, ..., *_reverse).
type RNN struct {
	kind          cellKind
	hidden        int64
	fwd           ops.CellWeights
	bwd           ops.CellWeights
	bidirectional bool
}

func loadRNN(vb *VarBuilder, kind cellKind, in, hidden int64, bidirectional bool) (*RNN, error) {
	gates := int64(3)
	if kind == lstmCell {
		gates = 4
	}

	r := &RNN{kind: kind, hidden: hidden, bidirectional: bidirectional}

	var err error
	if r.fwd, err = loadCell(vb, "_l0", gates, in, hidden); err != nil {
		return nil, err
	}

	if bidirectional {
		if r.bwd, err = loadCell(vb, "_l0_reverse", gates, in, hidden); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// OutDim is the feature width of Forward's output.
func (r *RNN) OutDim() int64 {
	if r.bidirectional {
		return 2 * r.hidden
	}

	return r.hidden
}

// Forward runs x [N, L, in] and returns [N, L, OutDim]. When lengths is
// non-nil each row only runs over its first lengths[n] steps, the reverse
// direction starts at lengths[n]-1, and outputs past the length are zero.
func (r *RNN) Forward(x *tensor.Tensor, lengths []int) (*tensor.Tensor, error) {
	if r == nil {
		return nil, errors.New("melnet: rnn is not initialized")
	}

	if x == nil || x.Rank() != 3 {
		return nil, fmt.Errorf("melnet: rnn expects [N, L, in], got %v", x.Shape())
	}

	n, steps := int(x.Dim(0)), int(x.Dim(1))
	if lengths == nil {
		lengths = make([]int, n)
		for i := range lengths {
			lengths[i] = steps
		}
	}

	if len(lengths) != n {
		return nil, fmt.Errorf("melnet: rnn got %d lengths for %d rows", len(lengths), n)
	}

	for i, l := range lengths {
		if l < 0 || l > steps {
			return nil, fmt.Errorf("melnet: rnn length[%d]=%d outside [0,%d]", i, l, steps)
		}
	}

	out := make([]float32, n*steps*int(r.OutDim()))

	// Directions write disjoint feature columns of out.
	var g errgroup.Group

	g.Go(func() error { return r.direction(x, lengths, r.fwd, false, out, 0) })

	if r.bidirectional {
		g.Go(func() error { return r.direction(x, lengths, r.bwd, true, out, int(r.hidden)) })
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return tensor.FromOwned(out, []int64{int64(n), int64(steps), r.OutDim()})
}

// direction runs one direction and writes hidden states into out at feature
// offset col.
func (r *RNN) direction(x *tensor.Tensor, lengths []int, w ops.CellWeights, reverse bool, out []float32, col int) error {
	n, steps, in := int(x.Dim(0)), int(x.Dim(1)), int(x.Dim(2))
	hid := int(r.hidden)
	width := int(r.OutDim())
	xd := x.RawData()

	h, err := tensor.Zeros([]int64{int64(n), r.hidden})
	if err != nil {
		return err
	}

	c := h.Clone()
	stepIn := make([]float32, n*in)

	for s := range steps {
		for b := range n {
			dst := stepIn[b*in : (b+1)*in]
			t := timeIndex(s, lengths[b], reverse)

			if t < 0 {
				clear(dst)
				continue
			}

			copy(dst, xd[(b*steps+t)*in:(b*steps+t+1)*in])
		}

		xs, err := tensor.New(stepIn, []int64{int64(n), int64(in)})
		if err != nil {
			return err
		}

		var hNext, cNext *tensor.Tensor
		if r.kind == lstmCell {
			hNext, cNext, err = ops.LSTMCell(xs, h, c, w)
		} else {
			hNext, err = ops.GRUCell(xs, h, w)
		}

		if err != nil {
			return fmt.Errorf("melnet: rnn step %d: %w", s, err)
		}

		hd, hn := h.RawData(), hNext.RawData()

		for b := range n {
			t := timeIndex(s, lengths[b], reverse)
			if t < 0 {
				continue
			}

			copy(hd[b*hid:(b+1)*hid], hn[b*hid:(b+1)*hid])

			if cNext != nil {
				copy(c.RawData()[b*hid:(b+1)*hid], cNext.RawData()[b*hid:(b+1)*hid])
			}

			base := (b*steps+t)*width + col
			copy(out[base:base+hid], hn[b*hid:(b+1)*hid])
		}
	}

	return nil
}

// timeIndex maps loop step s to the time index processed for a row of the
// given length, or -1 once the row is exhausted.
func timeIndex(s, length int, reverse bool) int {
	if s >= length {
		return -1
	}

	if reverse {
		return length - 1 - s
	}

	return s
}
