package melnet

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/example/go-melnet-tts/internal/runtime/ops"
	"github.com/example/go-melnet-tts/internal/runtime/tensor"
	"github.com/example/go-melnet-tts/internal/safetensors"
)

type stackLayer struct {
	block   *DelayedRNN
	attends bool
}

// Model is the text-conditioned mel generator: a text encoder, a stack of
// delayed recurrent layers and one GMM attention feeding the middle layer.
type Model struct {
	hp        HParams
	encoder   *TextEncoder
	attention *GMMAttention
	layers    []stackLayer

	wt0    *Linear // 1 -> H
	wf0    *Linear // 1 -> H
	wc0    *Linear // n_mels -> H
	wTheta *Linear // H -> 3K
}

// Output holds raw mixture projections and the attention results of a pass.
type Output struct {
	Mu          *tensor.Tensor // [B, M, T, K]
	Std         *tensor.Tensor // [B, M, T, K], unconstrained
	Pi          *tensor.Tensor // [B, M, T, K], logits
	Alignment   *tensor.Tensor // [B, T, T_text]
	Termination []float32      // [B]
	Context     *tensor.Tensor // final attention context [B, H]
}

// Load builds a model from vb. With a VarMap-backed builder the parameters
// are created with random initialisation.
func Load(vb *VarBuilder, hp HParams) (*Model, error) {
	if err := hp.Validate(); err != nil {
		return nil, err
	}

	h := int64(hp.Hidden)
	m := &Model{hp: hp}

	var err error

	if m.encoder, err = loadTextEncoder(vb, hp.NSymbols, h); err != nil {
		return nil, err
	}

	if m.attention, err = loadGMMAttention(vb.Path("attention"), h, hp.AttentionGMM); err != nil {
		return nil, err
	}

	for i := range hp.Layers {
		block, err := loadDelayedRNN(vb.Path("layers", strconv.Itoa(i)), h)
		if err != nil {
			return nil, fmt.Errorf("melnet: layer %d: %w", i, err)
		}

		m.layers = append(m.layers, stackLayer{block: block, attends: i == hp.AttentionLayer()})
	}

	projections := []struct {
		dst     **Linear
		name    string
		in, out int64
	}{
		{&m.wt0, "W_t_0", 1, h},
		{&m.wf0, "W_f_0", 1, h},
		{&m.wc0, "W_c_0", int64(hp.NMels), h},
		{&m.wTheta, "W_theta", h, 3 * int64(hp.GMM)},
	}

	for _, p := range projections {
		if *p.dst, err = loadLinear(vb, p.name, p.in, p.out, true); err != nil {
			return nil, fmt.Errorf("melnet: %s: %w", p.name, err)
		}
	}

	return m, nil
}

// New creates a randomly initialised model and the VarMap holding its
// parameters.
func New(hp HParams, seed int64) (*Model, *VarMap, error) {
	vars := NewVarMap(seed)

	m, err := Load(NewInitVarBuilder(vars), hp)
	if err != nil {
		return nil, nil, err
	}

	return m, vars, nil
}

// LoadCheckpoint opens a safetensors checkpoint with the given hyperparameters.
// Keys exported from a data-parallel wrapper ("module." prefix) are accepted.
func LoadCheckpoint(path string, hp HParams) (*Model, error) {
	vb, err := OpenVarBuilder(path, safetensors.StoreOptions{KeyMapper: stripModulePrefix})
	if err != nil {
		return nil, fmt.Errorf("melnet: open checkpoint: %w", err)
	}
	defer vb.Close()

	return Load(vb, hp)
}

func stripModulePrefix(name string) (string, bool) {
	return strings.TrimPrefix(name, "module."), true
}

// SaveCheckpoint writes vars as a safetensors checkpoint tagged with hp.
func SaveCheckpoint(path string, vars *VarMap, hp HParams, dtype string) error {
	meta, err := hp.metadata()
	if err != nil {
		return fmt.Errorf("melnet: save checkpoint: %w", err)
	}

	return vars.Save(path, safetensors.EncodeOptions{DType: dtype, Metadata: meta})
}

func (m *Model) HParams() HParams { return m.hp }

// Attention exposes the attention module.
func (m *Model) Attention() *GMMAttention { return m.attention }

// Encode runs the text encoder over padded ids.
func (m *Model) Encode(ids [][]int, lengths []int) (*tensor.Tensor, error) {
	if m == nil {
		return nil, errors.New("melnet: model is not initialized")
	}

	return m.encoder.Forward(ids, lengths)
}

// Forward runs the teacher-forced pass over mel frames x [B, n_mels, T].
func (m *Model) Forward(x *tensor.Tensor, ids [][]int, lengths []int) (*Output, error) {
	if m == nil {
		return nil, errors.New("melnet: model is not initialized")
	}

	if err := m.checkFrames(x); err != nil {
		return nil, err
	}

	if len(ids) != int(x.Dim(0)) {
		return nil, fmt.Errorf("melnet: %d text rows for batch %d", len(ids), x.Dim(0))
	}

	memory, err := m.Encode(ids, lengths)
	if err != nil {
		return nil, err
	}

	xt, err := x.Shift(2, 1)
	if err != nil {
		return nil, err
	}

	xf, err := x.Shift(1, 1)
	if err != nil {
		return nil, err
	}

	return m.run(xt, xf, memory, lengths)
}

func (m *Model) checkFrames(x *tensor.Tensor) error {
	if x == nil || x.Rank() != 3 || x.Dim(1) != int64(m.hp.NMels) {
		var shape []int64
		if x != nil {
			shape = x.Shape()
		}

		return fmt.Errorf("melnet: frames must be [B,%d,T], got %v", m.hp.NMels, shape)
	}

	if x.Dim(0) < 1 || x.Dim(2) < 1 {
		return fmt.Errorf("melnet: frames must have at least one row and frame, got %v", x.Shape())
	}

	return nil
}

// run evaluates the stack on already delayed inputs: xt is the time-shifted
// and xf the frequency-shifted view of the frames, both [B, n_mels, T].
func (m *Model) run(xt, xf, memory *tensor.Tensor, lengths []int) (*Output, error) {
	ht, err := projectScalar(m.wt0, xt)
	if err != nil {
		return nil, fmt.Errorf("melnet: W_t_0: %w", err)
	}

	hf, err := projectScalar(m.wf0, xf)
	if err != nil {
		return nil, fmt.Errorf("melnet: W_f_0: %w", err)
	}

	frames, err := xt.Transpose(1, 2) // [B, T, n_mels]
	if err != nil {
		return nil, err
	}

	hc, err := m.wc0.Forward(frames)
	if err != nil {
		return nil, fmt.Errorf("melnet: W_c_0: %w", err)
	}

	var att *AttentionOutput

	for i, layer := range m.layers {
		if !layer.attends {
			if ht, hf, hc, err = layer.block.Forward(ht, hf, hc); err != nil {
				return nil, fmt.Errorf("melnet: layer %d: %w", i, err)
			}

			continue
		}

		if att, err = m.attention.Forward(hc, memory, lengths); err != nil {
			return nil, err
		}

		if ht, hf, hc, err = layer.block.ForwardContext(ht, hf, att.Contexts); err != nil {
			return nil, fmt.Errorf("melnet: layer %d: %w", i, err)
		}
	}

	theta, err := m.wTheta.Forward(hf)
	if err != nil {
		return nil, fmt.Errorf("melnet: W_theta: %w", err)
	}

	k := int64(m.hp.GMM)
	parts := make([]*tensor.Tensor, 3)

	for i := range parts {
		if parts[i], err = theta.Narrow(3, int64(i)*k, k); err != nil {
			return nil, err
		}
	}

	out := &Output{Mu: parts[0], Std: parts[1], Pi: parts[2]}
	if att != nil {
		out.Alignment = att.Alignment
		out.Termination = att.Termination
		out.Context = att.Context
	}

	return out, nil
}

// projectScalar lifts every scalar of x [B, M, T] to a vector with a 1 -> H
// linear layer, giving [B, M, T, H].
func projectScalar(l *Linear, x *tensor.Tensor) (*tensor.Tensor, error) {
	shape := append(x.Shape(), 1)

	x4, err := x.Reshape(shape)
	if err != nil {
		return nil, err
	}

	return l.Forward(x4)
}

// MixtureMeans returns Σ_k softmax(pi)_k · mu_k at frame t for every row and
// bin, laid out [B][n_mels].
func MixtureMeans(out *Output, t int) ([][]float32, error) {
	if out == nil || out.Mu == nil || out.Pi == nil {
		return nil, errors.New("melnet: mixture means need mu and pi")
	}

	if !tensor.SameShape(out.Mu, out.Pi) || out.Mu.Rank() != 4 {
		return nil, fmt.Errorf("melnet: mixture means shape mismatch %v vs %v", out.Mu.Shape(), out.Pi.Shape())
	}

	b, mels, steps, k := int(out.Mu.Dim(0)), int(out.Mu.Dim(1)), int(out.Mu.Dim(2)), int(out.Mu.Dim(3))
	if t < 0 || t >= steps {
		return nil, fmt.Errorf("melnet: mixture means frame %d outside [0,%d)", t, steps)
	}

	mu, pi := out.Mu.RawData(), out.Pi.RawData()
	means := make([]float64, k)
	logits := make([]float64, k)
	res := make([][]float32, b)

	for row := range b {
		res[row] = make([]float32, mels)

		for bin := range mels {
			base := ((row*mels+bin)*steps + t) * k
			for j := range k {
				means[j] = float64(mu[base+j])
				logits[j] = float64(pi[base+j])
			}

			v, err := ops.MixtureMean(means, logits)
			if err != nil {
				return nil, fmt.Errorf("melnet: mixture mean [%d,%d,%d]: %w", row, bin, t, err)
			}

			res[row][bin] = float32(v)
		}
	}

	return res, nil
}
