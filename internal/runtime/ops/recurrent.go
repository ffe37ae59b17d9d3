package ops

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/go-melnet-tts/internal/runtime/tensor"
)

// CellWeights holds the parameters of one recurrent cell in PyTorch layout:
// input weights [G*H, in], hidden weights [G*H, H] and optional biases [G*H],
// where G is 4 for an LSTM and 3 for a GRU.
type CellWeights struct {
	InputWeight  *tensor.Tensor
	HiddenWeight *tensor.Tensor
	InputBias    *tensor.Tensor
	HiddenBias   *tensor.Tensor
}

func (w CellWeights) gates(x, h *tensor.Tensor, gates int, name string) (gi, gh []float32, err error) {
	if x == nil || h == nil {
		return nil, nil, fmt.Errorf("ops: %s requires non-nil input and hidden state", name)
	}

	if w.InputWeight == nil || w.HiddenWeight == nil {
		return nil, nil, fmt.Errorf("ops: %s weights are not loaded", name)
	}

	if x.Rank() != 2 || h.Rank() != 2 || x.Dim(0) != h.Dim(0) {
		return nil, nil, fmt.Errorf("ops: %s expects x [B,in] and h [B,H], got %v and %v", name, x.Shape(), h.Shape())
	}

	if w.HiddenWeight.Dim(0) != int64(gates)*h.Dim(1) {
		return nil, nil, fmt.Errorf("ops: %s hidden weight rows %d, want %d*%d", name, w.HiddenWeight.Dim(0), gates, h.Dim(1))
	}

	inProj, err := tensor.Linear(x, w.InputWeight, w.InputBias)
	if err != nil {
		return nil, nil, fmt.Errorf("ops: %s input projection: %w", name, err)
	}

	hidProj, err := tensor.Linear(h, w.HiddenWeight, w.HiddenBias)
	if err != nil {
		return nil, nil, fmt.Errorf("ops: %s hidden projection: %w", name, err)
	}

	if !tensor.SameShape(inProj, hidProj) {
		return nil, nil, fmt.Errorf("ops: %s gate shapes %v vs %v", name, inProj.Shape(), hidProj.Shape())
	}

	return inProj.RawData(), hidProj.RawData(), nil
}

// LSTMCell advances an LSTM cell by one step. Gates are ordered i, f, g, o.
func LSTMCell(x, h, c *tensor.Tensor, w CellWeights) (*tensor.Tensor, *tensor.Tensor, error) {
	if c == nil || !tensor.SameShape(h, c) {
		return nil, nil, errors.New("ops: lstm cell state must match hidden state shape")
	}

	gi, gh, err := w.gates(x, h, 4, "lstm cell")
	if err != nil {
		return nil, nil, err
	}

	batch := int(h.Dim(0))
	hidden := int(h.Dim(1))
	prevC := c.RawData()
	hOut := make([]float32, batch*hidden)
	cOut := make([]float32, batch*hidden)

	for b := range batch {
		row := b * 4 * hidden
		for j := range hidden {
			at := func(g int) float32 { return gi[row+g*hidden+j] + gh[row+g*hidden+j] }

			in := sigmoid(at(0))
			forget := sigmoid(at(1))
			cand := float32(math.Tanh(float64(at(2))))
			out := sigmoid(at(3))

			idx := b*hidden + j
			cOut[idx] = forget*prevC[idx] + in*cand
			hOut[idx] = out * float32(math.Tanh(float64(cOut[idx])))
		}
	}

	hNext, err := tensor.FromOwned(hOut, h.Shape())
	if err != nil {
		return nil, nil, err
	}

	cNext, err := tensor.FromOwned(cOut, c.Shape())
	if err != nil {
		return nil, nil, err
	}

	return hNext, cNext, nil
}

// GRUCell advances a GRU cell by one step. Gates are ordered r, z, n and the
// reset gate is applied after the hidden projection.
func GRUCell(x, h *tensor.Tensor, w CellWeights) (*tensor.Tensor, error) {
	gi, gh, err := w.gates(x, h, 3, "gru cell")
	if err != nil {
		return nil, err
	}

	batch := int(h.Dim(0))
	hidden := int(h.Dim(1))
	prev := h.RawData()
	out := make([]float32, batch*hidden)

	for b := range batch {
		row := b * 3 * hidden
		for j := range hidden {
			reset := sigmoid(gi[row+j] + gh[row+j])
			update := sigmoid(gi[row+hidden+j] + gh[row+hidden+j])
			cand := float32(math.Tanh(float64(gi[row+2*hidden+j] + reset*gh[row+2*hidden+j])))

			idx := b*hidden + j
			out[idx] = (1-update)*cand + update*prev[idx]
		}
	}

	return tensor.FromOwned(out, h.Shape())
}

func sigmoid(x float32) float32 {
	return float32(sigmoid64(float64(x)))
}
