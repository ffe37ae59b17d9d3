package melnet

import (
	"errors"
	"fmt"

	"github.com/example/go-melnet-tts/internal/runtime/tensor"
)

// DelayedRNN is one layer of the multi-dimensional recurrent stack. It keeps
// three hidden streams:
//
//	ht [B, M, T, H]  time-delayed stack
//	hf [B, M, T, H]  frequency-delayed stack
//	hc [B, T, H]     centralized (per-frame) stack
//
// and updates each residually.
type DelayedRNN struct {
	hidden int64

	tDelayX  *RNN // GRU over time, one sequence per bin
	tDelayYZ *RNN // bidirectional GRU over frequency, one sequence per frame
	central  *RNN // GRU over time on hc
	fDelay   *RNN // GRU over frequency on the summed streams

	wt *Linear // 3H -> H
	wc *Linear // H -> H
	wf *Linear // H -> H
}

func loadDelayedRNN(vb *VarBuilder, hidden int64) (*DelayedRNN, error) {
	d := &DelayedRNN{hidden: hidden}

	var err error

	rnns := []struct {
		dst  **RNN
		name string
		bi   bool
	}{
		{&d.tDelayX, "t_delay_RNN_x", false},
		{&d.tDelayYZ, "t_delay_RNN_yz", true},
		{&d.central, "c_RNN", false},
		{&d.fDelay, "f_delay_RNN", false},
	}

	for _, r := range rnns {
		if *r.dst, err = loadRNN(vb.Path(r.name), gruCell, hidden, hidden, r.bi); err != nil {
			return nil, fmt.Errorf("melnet: %s: %w", r.name, err)
		}
	}

	if d.wt, err = loadLinear(vb, "W_t", 3*hidden, hidden, true); err != nil {
		return nil, err
	}

	if d.wc, err = loadLinear(vb, "W_c", hidden, hidden, true); err != nil {
		return nil, err
	}

	if d.wf, err = loadLinear(vb, "W_f", hidden, hidden, true); err != nil {
		return nil, err
	}

	return d, nil
}

// Forward runs the three stacks and returns the updated (ht, hf, hc).
func (d *DelayedRNN) Forward(ht, hf, hc *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, *tensor.Tensor, error) {
	return d.forward(ht, hf, hc, false)
}

// ForwardContext is Forward with the centralized recurrence replaced by an
// external conditioning sequence ctx [B, T, H], such as attention contexts.
func (d *DelayedRNN) ForwardContext(ht, hf, ctx *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, *tensor.Tensor, error) {
	return d.forward(ht, hf, ctx, true)
}

func (d *DelayedRNN) forward(ht, hf, hc *tensor.Tensor, external bool) (*tensor.Tensor, *tensor.Tensor, *tensor.Tensor, error) {
	if d == nil {
		return nil, nil, nil, errors.New("melnet: delayed rnn is not initialized")
	}

	if err := d.checkShapes(ht, hf, hc); err != nil {
		return nil, nil, nil, err
	}

	outHt, err := d.timeStack(ht)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("melnet: time-delayed stack: %w", err)
	}

	outHc, err := d.centralStack(hc, external)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("melnet: centralized stack: %w", err)
	}

	outHf, err := d.frequencyStack(hf, outHt, outHc)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("melnet: frequency-delayed stack: %w", err)
	}

	return outHt, outHf, outHc, nil
}

func (d *DelayedRNN) checkShapes(ht, hf, hc *tensor.Tensor) error {
	if ht == nil || hf == nil || hc == nil {
		return errors.New("melnet: delayed rnn requires ht, hf and hc")
	}

	if ht.Rank() != 4 || ht.Dim(3) != d.hidden {
		return fmt.Errorf("melnet: delayed rnn ht must be [B,M,T,%d], got %v", d.hidden, ht.Shape())
	}

	if !tensor.SameShape(ht, hf) {
		return fmt.Errorf("melnet: delayed rnn hf %v does not match ht %v", hf.Shape(), ht.Shape())
	}

	if hc.Rank() != 3 || hc.Dim(0) != ht.Dim(0) || hc.Dim(1) != ht.Dim(2) || hc.Dim(2) != d.hidden {
		return fmt.Errorf("melnet: delayed rnn hc must be [%d,%d,%d], got %v", ht.Dim(0), ht.Dim(2), d.hidden, hc.Shape())
	}

	return nil
}

// timeStack: ht + W_t([GRU_time(ht), biGRU_freq(ht)]).
func (d *DelayedRNN) timeStack(ht *tensor.Tensor) (*tensor.Tensor, error) {
	b, m, t, h := ht.Dim(0), ht.Dim(1), ht.Dim(2), ht.Dim(3)

	hx, err := alongAxis(d.tDelayX, ht, false)
	if err != nil {
		return nil, err
	}

	yz, err := alongAxis(d.tDelayYZ, ht, true)
	if err != nil {
		return nil, err
	}

	cat, err := tensor.Concat([]*tensor.Tensor{hx, yz}, -1)
	if err != nil {
		return nil, err
	}

	out, err := d.wt.Forward(cat)
	if err != nil {
		return nil, err
	}

	if !equalShape(out.Shape(), []int64{b, m, t, h}) {
		return nil, fmt.Errorf("unexpected output shape %v", out.Shape())
	}

	if err := tensor.AddInPlace(out, ht); err != nil {
		return nil, err
	}

	return out, nil
}

// centralStack: hc + W_c(GRU_time(hc)), or ctx + W_c(ctx) for an external
// conditioning sequence.
func (d *DelayedRNN) centralStack(hc *tensor.Tensor, external bool) (*tensor.Tensor, error) {
	x := hc

	if !external {
		var err error
		if x, err = d.central.Forward(hc, nil); err != nil {
			return nil, err
		}
	}

	out, err := d.wc.Forward(x)
	if err != nil {
		return nil, err
	}

	if err := tensor.AddInPlace(out, hc); err != nil {
		return nil, err
	}

	return out, nil
}

// frequencyStack: hf + W_f(GRU_freq(hf + ht + hc)).
func (d *DelayedRNN) frequencyStack(hf, ht, hc *tensor.Tensor) (*tensor.Tensor, error) {
	sum, err := tensor.BroadcastAdd(hf, ht)
	if err != nil {
		return nil, err
	}

	hc4, err := hc.Reshape([]int64{hc.Dim(0), 1, hc.Dim(1), hc.Dim(2)})
	if err != nil {
		return nil, err
	}

	if sum, err = tensor.BroadcastAdd(sum, hc4); err != nil {
		return nil, err
	}

	f, err := alongAxis(d.fDelay, sum, true)
	if err != nil {
		return nil, err
	}

	out, err := d.wf.Forward(f)
	if err != nil {
		return nil, err
	}

	if err := tensor.AddInPlace(out, hf); err != nil {
		return nil, err
	}

	return out, nil
}

// alongAxis runs rnn over x [B, M, T, H] as independent sequences, either
// along time (one per bin) or along frequency (one per frame), and returns
// [B, M, T, rnn.OutDim()].
func alongAxis(rnn *RNN, x *tensor.Tensor, frequency bool) (*tensor.Tensor, error) {
	b, m, t, h := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	out := rnn.OutDim()

	if !frequency {
		seq, err := x.Reshape([]int64{b * m, t, h})
		if err != nil {
			return nil, err
		}

		y, err := rnn.Forward(seq, nil)
		if err != nil {
			return nil, err
		}

		return y.Reshape([]int64{b, m, t, out})
	}

	xt, err := x.Transpose(1, 2) // [B, T, M, H]
	if err != nil {
		return nil, err
	}

	seq, err := xt.Reshape([]int64{b * t, m, h})
	if err != nil {
		return nil, err
	}

	y, err := rnn.Forward(seq, nil)
	if err != nil {
		return nil, err
	}

	if y, err = y.Reshape([]int64{b, t, m, out}); err != nil {
		return nil, err
	}

	return y.Transpose(1, 2)
}
