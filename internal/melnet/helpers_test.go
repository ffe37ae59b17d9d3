package melnet

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/example/go-melnet-tts/internal/runtime/tensor"
	"github.com/example/go-melnet-tts/internal/text"
)

var approx = cmpopts.EquateApprox(0, 1e-5)

func randTensor(t *testing.T, rng *rand.Rand, shape ...int64) *tensor.Tensor {
	t.Helper()

	n := int64(1)
	for _, d := range shape {
		n *= d
	}

	data := make([]float32, n)
	for i := range data {
		data[i] = float32(rng.Float64()*2 - 1)
	}

	x, err := tensor.FromOwned(data, shape)
	require.NoError(t, err)

	return x
}

func requireClose(t *testing.T, want, got []float32) {
	t.Helper()

	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Fatalf("values differ (-want +got):\n%s", diff)
	}
}

func smallHParams() HParams {
	return HParams{
		Hidden:       4,
		GMM:          2,
		AttentionGMM: 2,
		Layers:       3,
		NMels:        3,
		NSymbols:     text.NumSymbols(),
	}
}

func encodeBatch(t *testing.T, lines ...string) ([][]int, []int) {
	t.Helper()

	seqs := make([][]int, len(lines))
	for i, line := range lines {
		ids, err := text.Encode(line)
		require.NoError(t, err)

		seqs[i] = ids
	}

	ids, lengths := text.PadBatch(seqs)

	return ids, lengths
}

func mustZeros(t *testing.T, shape ...int64) *tensor.Tensor {
	t.Helper()

	x, err := tensor.Zeros(shape)
	require.NoError(t, err)

	return x
}
