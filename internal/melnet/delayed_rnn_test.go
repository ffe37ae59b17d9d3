package melnet

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/go-melnet-tts/internal/runtime/tensor"
)

func TestDelayedRNNShapes(t *testing.T) {
	d, err := loadDelayedRNN(NewInitVarBuilder(NewVarMap(1)), 4)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	ht := randTensor(t, rng, 2, 3, 5, 4)
	hf := randTensor(t, rng, 2, 3, 5, 4)
	hc := randTensor(t, rng, 2, 5, 4)

	outHt, outHf, outHc, err := d.Forward(ht, hf, hc)
	require.NoError(t, err)
	require.Equal(t, ht.Shape(), outHt.Shape())
	require.Equal(t, hf.Shape(), outHf.Shape())
	require.Equal(t, hc.Shape(), outHc.Shape())

	_, _, ctxHc, err := d.ForwardContext(ht, hf, hc)
	require.NoError(t, err)
	require.NotEqual(t, outHc.Data(), ctxHc.Data())

	_, _, _, err = d.Forward(ht, hf, randTensor(t, rng, 2, 4, 4))
	require.ErrorContains(t, err, "hc")

	_, _, _, err = d.Forward(ht, randTensor(t, rng, 2, 3, 4, 4), hc)
	require.ErrorContains(t, err, "hf")
}

// Outputs for frames before t must not change when frame t changes.
func TestDelayedRNNIsCausalInTime(t *testing.T) {
	d, err := loadDelayedRNN(NewInitVarBuilder(NewVarMap(2)), 4)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(5))
	ht := randTensor(t, rng, 1, 3, 4, 4)
	hf := randTensor(t, rng, 1, 3, 4, 4)
	hc := randTensor(t, rng, 1, 4, 4)

	outHt, outHf, outHc, err := d.Forward(ht, hf, hc)
	require.NoError(t, err)

	perturb := func(x *tensor.Tensor, timeDim int) *tensor.Tensor {
		y := x.Clone()
		data := y.RawData()
		shape := y.Shape()

		inner := int64(1)
		for i := timeDim + 1; i < len(shape); i++ {
			inner *= shape[i]
		}

		steps := shape[timeDim]
		for i := range int64(len(data)) {
			if (i/inner)%steps == steps-1 {
				data[i] += 3
			}
		}

		return y
	}

	pHt, pHf, pHc, err := d.Forward(perturb(ht, 2), perturb(hf, 2), perturb(hc, 1))
	require.NoError(t, err)

	head := func(x *tensor.Tensor, timeDim int) []float32 {
		y, err := x.Narrow(timeDim, 0, x.Dim(timeDim)-1)
		require.NoError(t, err)

		return y.Data()
	}

	requireClose(t, head(outHt, 2), head(pHt, 2))
	requireClose(t, head(outHf, 2), head(pHf, 2))
	requireClose(t, head(outHc, 1), head(pHc, 1))
	require.NotEqual(t, outHf.Data(), pHf.Data())
}

func TestDelayedRNNParameterNames(t *testing.T) {
	vars := NewVarMap(1)

	_, err := loadDelayedRNN(NewInitVarBuilder(vars).Path("layers", "0"), 4)
	require.NoError(t, err)

	names := vars.Names()
	for _, want := range []string{
		"layers.0.W_t.weight",
		"layers.0.W_c.bias",
		"layers.0.W_f.weight",
		"layers.0.c_RNN.weight_hh_l0",
		"layers.0.f_delay_RNN.bias_ih_l0",
		"layers.0.t_delay_RNN_x.weight_ih_l0",
		"layers.0.t_delay_RNN_yz.weight_ih_l0_reverse",
	} {
		require.Contains(t, names, want)
	}

	require.Equal(t, []int64{4, 12}, vars.vars["layers.0.W_t.weight"].Shape())
	require.Equal(t, []int64{12, 4}, vars.vars["layers.0.t_delay_RNN_yz.weight_ih_l0_reverse"].Shape())
}
