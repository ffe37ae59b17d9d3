package melnet

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/example/go-melnet-tts/internal/runtime/ops"
	"github.com/example/go-melnet-tts/internal/runtime/tensor"
)

// spreadOffset is added to the scale-logit bias at initialisation so the
// windows start wide.
var spreadOffset = math.Log(10)

// GMMAttention is a monotonic attention over text memory whose alignment is a
// mixture of logistic windows that only move forward.
type GMMAttention struct {
	hidden   int64
	mixtures int
	cell     *LSTMCell // input [cond, context], width 2H
	wg       *Linear   // H -> 3M
}

func loadGMMAttention(vb *VarBuilder, hidden int64, mixtures int) (*GMMAttention, error) {
	if mixtures <= 0 {
		return nil, fmt.Errorf("melnet: attention needs at least one mixture component, got %d", mixtures)
	}

	cell, err := loadLSTMCell(vb.Path("rnn_cell"), 2*hidden, hidden)
	if err != nil {
		return nil, fmt.Errorf("melnet: attention cell: %w", err)
	}

	m := int64(mixtures)

	wg, err := loadLinearInit(vb, "W_g", hidden, 3*m, true, spreadBiasInit(mixtures, fanBound(hidden)))
	if err != nil {
		return nil, fmt.Errorf("melnet: attention W_g: %w", err)
	}

	return &GMMAttention{hidden: hidden, mixtures: mixtures, cell: cell, wg: wg}, nil
}

func spreadBiasInit(mixtures int, bound float64) Init {
	base := Uniform(bound)

	return func(rng *rand.Rand, data []float32) {
		base(rng, data)

		for k := mixtures; k < 2*mixtures && k < len(data); k++ {
			data[k] += float32(spreadOffset)
		}
	}
}

// Mixtures returns the number of attention mixture components.
func (a *GMMAttention) Mixtures() int { return a.mixtures }

// AttentionState is the per-step recurrent state of the attention loop.
type AttentionState struct {
	Hidden  *tensor.Tensor // [B, H]
	Cell    *tensor.Tensor // [B, H]
	Context *tensor.Tensor // [B, H]
	Ksi     [][]float64    // [B][M] window locations
}

// ZeroState returns the state at the start of a sequence.
func (a *GMMAttention) ZeroState(batch int) (AttentionState, error) {
	if a == nil {
		return AttentionState{}, errors.New("melnet: attention is not initialized")
	}

	if batch <= 0 {
		return AttentionState{}, fmt.Errorf("melnet: attention batch must be > 0, got %d", batch)
	}

	shape := []int64{int64(batch), a.hidden}

	h, err := tensor.Zeros(shape)
	if err != nil {
		return AttentionState{}, err
	}

	ksi := make([][]float64, batch)
	for b := range ksi {
		ksi[b] = make([]float64, a.mixtures)
	}

	return AttentionState{Hidden: h, Cell: h.Clone(), Context: h.Clone(), Ksi: ksi}, nil
}

// Alignment is the result of one accumulator step.
type Alignment struct {
	Context     *tensor.Tensor // [B, H]
	Weights     *tensor.Tensor // [B, T_text]
	Termination *tensor.Tensor // [B, T_text]
	Ksi         [][]float64    // [B][M]
	Mixtures    []ops.Mixture  // per batch row
}

// Accumulate turns the location-step projection [B, 3M] into window weights
// over memory [B, T_text, H], advancing ksi. Rows are evaluated in parallel.
func Accumulate(proj *tensor.Tensor, ksi [][]float64, memory *tensor.Tensor) (*Alignment, error) {
	if proj == nil || memory == nil {
		return nil, errors.New("melnet: accumulate requires projection and memory")
	}

	if proj.Rank() != 2 || memory.Rank() != 3 {
		return nil, fmt.Errorf("melnet: accumulate expects projection [B,3M] and memory [B,T,H], got %v and %v", proj.Shape(), memory.Shape())
	}

	batch := int(proj.Dim(0))
	if int(memory.Dim(0)) != batch || len(ksi) != batch {
		return nil, fmt.Errorf("melnet: accumulate batch mismatch: projection %d, memory %d, ksi %d", batch, memory.Dim(0), len(ksi))
	}

	width := int(proj.Dim(1))
	textLen := int(memory.Dim(1))

	if textLen == 0 {
		return nil, errors.New("melnet: accumulate memory has no text positions")
	}

	weights := make([]float32, batch*textLen)
	term := make([]float32, batch*textLen)
	next := make([][]float64, batch)
	mixtures := make([]ops.Mixture, batch)
	pd := proj.RawData()

	var g errgroup.Group
	g.SetLimit(tensor.Workers())

	for b := range batch {
		g.Go(func() error {
			if len(ksi[b])*3 != width {
				return fmt.Errorf("melnet: accumulate row %d: projection width %d, want 3*%d", b, width, len(ksi[b]))
			}

			logits := make([]float64, width)
			for i, v := range pd[b*width : (b+1)*width] {
				logits[i] = float64(v)
			}

			mix, err := ops.AdvanceMixture(logits, ksi[b])
			if err != nil {
				return fmt.Errorf("melnet: accumulate row %d: %w", b, err)
			}

			window := make([]float64, textLen)
			rest := make([]float64, textLen)

			if err := ops.MixtureWindow(mix, window, rest); err != nil {
				return fmt.Errorf("melnet: accumulate row %d: %w", b, err)
			}

			for p := range textLen {
				weights[b*textLen+p] = float32(window[p])
				term[b*textLen+p] = float32(rest[p])
			}

			next[b] = mix.Loc
			mixtures[b] = mix

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	w3, err := tensor.FromOwned(weights, []int64{int64(batch), 1, int64(textLen)})
	if err != nil {
		return nil, err
	}

	ctx3, err := tensor.MatMul(w3, memory)
	if err != nil {
		return nil, fmt.Errorf("melnet: accumulate context: %w", err)
	}

	context, err := ctx3.Reshape([]int64{int64(batch), memory.Dim(2)})
	if err != nil {
		return nil, err
	}

	w2, err := w3.Reshape([]int64{int64(batch), int64(textLen)})
	if err != nil {
		return nil, err
	}

	t2, err := tensor.FromOwned(term, []int64{int64(batch), int64(textLen)})
	if err != nil {
		return nil, err
	}

	return &Alignment{Context: context, Weights: w2, Termination: t2, Ksi: next, Mixtures: mixtures}, nil
}

// Attend runs one attention step for conditioning cond [B, H].
func (a *GMMAttention) Attend(cond, memory *tensor.Tensor, state AttentionState) (AttentionState, *Alignment, error) {
	if a == nil {
		return AttentionState{}, nil, errors.New("melnet: attention is not initialized")
	}

	if cond == nil || cond.Rank() != 2 || cond.Dim(1) != a.hidden {
		return AttentionState{}, nil, fmt.Errorf("melnet: attend expects cond [B,%d], got %v", a.hidden, cond.Shape())
	}

	if state.Context == nil || state.Context.Dim(0) != cond.Dim(0) {
		return AttentionState{}, nil, fmt.Errorf("melnet: attend state does not match batch %d", cond.Dim(0))
	}

	x, err := tensor.Concat([]*tensor.Tensor{cond, state.Context}, -1)
	if err != nil {
		return AttentionState{}, nil, fmt.Errorf("melnet: attend input: %w", err)
	}

	h, c, err := a.cell.Step(x, state.Hidden, state.Cell)
	if err != nil {
		return AttentionState{}, nil, fmt.Errorf("melnet: attend cell: %w", err)
	}

	proj, err := a.wg.Forward(h)
	if err != nil {
		return AttentionState{}, nil, fmt.Errorf("melnet: attend W_g: %w", err)
	}

	al, err := Accumulate(proj, state.Ksi, memory)
	if err != nil {
		return AttentionState{}, nil, err
	}

	return AttentionState{Hidden: h, Cell: c, Context: al.Context, Ksi: al.Ksi}, al, nil
}

// AttentionOutput is the result of running attention over a whole sequence.
type AttentionOutput struct {
	Context     *tensor.Tensor // final context [B, H]
	Contexts    *tensor.Tensor // per-step contexts [B, T, H]
	Alignment   *tensor.Tensor // [B, T, T_text]
	Termination []float32      // [B]
	State       AttentionState // state after the final step
}

// Forward runs Attend over every step of cond [B, T, H] starting from zero
// state. Termination is read from the final step at text position
// lengths[b]-1 of each row.
func (a *GMMAttention) Forward(cond, memory *tensor.Tensor, lengths []int) (*AttentionOutput, error) {
	if a == nil {
		return nil, errors.New("melnet: attention is not initialized")
	}

	if err := a.checkInputs(cond, memory, lengths); err != nil {
		return nil, err
	}

	batch, steps, hidden := cond.Dim(0), cond.Dim(1), cond.Dim(2)
	textLen := memory.Dim(1)

	state, err := a.ZeroState(int(batch))
	if err != nil {
		return nil, err
	}

	contexts := make([]float32, batch*steps*hidden)
	alignment := make([]float32, batch*steps*textLen)

	var last *Alignment

	for i := range steps {
		step, err := cond.Narrow(1, i, 1)
		if err != nil {
			return nil, err
		}

		step, err = step.Reshape([]int64{batch, hidden})
		if err != nil {
			return nil, err
		}

		state, last, err = a.Attend(step, memory, state)
		if err != nil {
			return nil, fmt.Errorf("melnet: attention step %d: %w", i, err)
		}

		cd, wd := state.Context.RawData(), last.Weights.RawData()
		for b := range batch {
			copy(contexts[(b*steps+i)*hidden:(b*steps+i+1)*hidden], cd[b*hidden:(b+1)*hidden])
			copy(alignment[(b*steps+i)*textLen:(b*steps+i+1)*textLen], wd[b*textLen:(b+1)*textLen])
		}
	}

	term, err := gatherTermination(last.Termination, lengths)
	if err != nil {
		return nil, err
	}

	ctxSeq, err := tensor.FromOwned(contexts, []int64{batch, steps, hidden})
	if err != nil {
		return nil, err
	}

	align, err := tensor.FromOwned(alignment, []int64{batch, steps, textLen})
	if err != nil {
		return nil, err
	}

	return &AttentionOutput{
		Context:     state.Context,
		Contexts:    ctxSeq,
		Alignment:   align,
		Termination: term,
		State:       state,
	}, nil
}

func (a *GMMAttention) checkInputs(cond, memory *tensor.Tensor, lengths []int) error {
	if cond == nil || memory == nil {
		return errors.New("melnet: attention requires cond and memory")
	}

	if cond.Rank() != 3 || cond.Dim(2) != a.hidden {
		return fmt.Errorf("melnet: attention cond must be [B,T,%d], got %v", a.hidden, cond.Shape())
	}

	if cond.Dim(1) < 1 {
		return errors.New("melnet: attention needs at least one step")
	}

	if memory.Rank() != 3 || memory.Dim(0) != cond.Dim(0) || memory.Dim(2) != a.hidden {
		return fmt.Errorf("melnet: attention memory must be [%d,T_text,%d], got %v", cond.Dim(0), a.hidden, memory.Shape())
	}

	if len(lengths) != int(cond.Dim(0)) {
		return fmt.Errorf("melnet: attention got %d lengths for batch %d", len(lengths), cond.Dim(0))
	}

	for b, l := range lengths {
		if l < 1 || int64(l) > memory.Dim(1) {
			return fmt.Errorf("melnet: attention length[%d]=%d outside [1,%d]", b, l, memory.Dim(1))
		}
	}

	return nil
}

// gatherTermination reads term[b, lengths[b]-1] for every row.
func gatherTermination(term *tensor.Tensor, lengths []int) ([]float32, error) {
	if term == nil || term.Rank() != 2 || int(term.Dim(0)) != len(lengths) {
		return nil, fmt.Errorf("melnet: termination gather expects [%d,T_text], got %v", len(lengths), term.Shape())
	}

	textLen := int(term.Dim(1))
	td := term.RawData()
	out := make([]float32, len(lengths))

	for b, l := range lengths {
		if l < 1 || l > textLen {
			return nil, fmt.Errorf("melnet: termination gather length[%d]=%d outside [1,%d]", b, l, textLen)
		}

		out[b] = td[b*textLen+l-1]
	}

	return out, nil
}
