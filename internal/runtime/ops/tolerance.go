package ops

import "fmt"

// Tolerance defines acceptable numeric drift versus PyTorch reference outputs.
type Tolerance struct {
	Abs float64
	Rel float64
}

// KernelTolerances defines per-kernel parity targets for the float32 tensor
// kernels and the float64 mixture kernels.
var KernelTolerances = map[string]Tolerance{
	"matmul":         {Abs: 1e-4, Rel: 1e-4},
	"linear":         {Abs: 1e-4, Rel: 1e-4},
	"softmax":        {Abs: 1e-5, Rel: 1e-5},
	"lstm_cell":      {Abs: 1e-6, Rel: 1e-5},
	"gru_cell":       {Abs: 1e-6, Rel: 1e-5},
	"logistic_cdf":   {Abs: 1e-12, Rel: 1e-12},
	"mixture_window": {Abs: 1e-12, Rel: 1e-12},
	"attention_step": {Abs: 1e-5, Rel: 1e-5},
}

func KernelTolerance(name string) (Tolerance, error) {
	t, ok := KernelTolerances[name]
	if !ok {
		return Tolerance{}, fmt.Errorf("ops: no tolerance configured for kernel %q", name)
	}

	return t, nil
}

// Within reports whether got is within t of want.
func (t Tolerance) Within(got, want float64) bool {
	diff := got - want
	if diff < 0 {
		diff = -diff
	}

	scale := want
	if scale < 0 {
		scale = -scale
	}

	return diff <= t.Abs+t.Rel*scale
}
