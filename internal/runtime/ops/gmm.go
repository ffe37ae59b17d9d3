package ops

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Mixture holds the per-component parameters of one batch row's attention
// window: location (ksi), scale (beta) and weight (alpha).
type Mixture struct {
	Loc    []float64
	Scale  []float64
	Weight []float64
}

// Len returns the number of components, or -1 when the slices disagree.
func (m Mixture) Len() int {
	if len(m.Loc) != len(m.Scale) || len(m.Loc) != len(m.Weight) {
		return -1
	}

	return len(m.Loc)
}

// LogisticCDF returns 1 / (1 + exp((loc - x) / scale)).
//
// The sigmoid is evaluated on the side that cannot overflow. A scale that has
// underflowed to zero degenerates to a step: 1 above loc, 0 below, 0.5 at loc.
func LogisticCDF(x, loc, scale float64) float64 {
	if scale <= 0 {
		return step(x, loc)
	}

	z := (x - loc) / scale
	if math.IsNaN(z) {
		return step(x, loc)
	}

	return sigmoid64(z)
}

func step(x, loc float64) float64 {
	switch {
	case x > loc:
		return 1
	case x < loc:
		return 0
	default:
		return 0.5
	}
}

func sigmoid64(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}

	e := math.Exp(z)

	return e / (1 + e)
}

// SoftmaxF64 writes softmax(logits) into dst. dst and logits may alias.
func SoftmaxF64(dst, logits []float64) error {
	if len(dst) != len(logits) {
		return fmt.Errorf("ops: softmax length mismatch %d vs %d", len(dst), len(logits))
	}

	if len(logits) == 0 {
		return errors.New("ops: softmax over empty slice")
	}

	lse := floats.LogSumExp(logits)
	if math.IsInf(lse, 0) || math.IsNaN(lse) {
		return fmt.Errorf("ops: softmax normaliser is %v", lse)
	}

	for i, v := range logits {
		dst[i] = math.Exp(v - lse)
	}

	return nil
}

// AdvanceMixture turns one row of raw projections laid out as
// [increment logits | scale logits | weight logits] into mixture parameters.
// The new location is prevLoc + exp(increment), so it never moves backwards.
// Location growth is unbounded.
func AdvanceMixture(logits, prevLoc []float64) (Mixture, error) {
	m := len(prevLoc)
	if m == 0 {
		return Mixture{}, errors.New("ops: mixture needs at least one component")
	}

	if len(logits) != 3*m {
		return Mixture{}, fmt.Errorf("ops: mixture logits length %d, want 3*%d", len(logits), m)
	}

	mix := Mixture{
		Loc:    make([]float64, m),
		Scale:  make([]float64, m),
		Weight: make([]float64, m),
	}

	for k := range m {
		mix.Loc[k] = prevLoc[k] + math.Exp(logits[k])
		mix.Scale[k] = math.Exp(logits[m+k])
	}

	if err := SoftmaxF64(mix.Weight, logits[2*m:]); err != nil {
		return Mixture{}, fmt.Errorf("ops: mixture weights: %w", err)
	}

	return mix, nil
}

// MixtureWindow evaluates the mixture over text positions p = 0..len(window)-1.
// Each position covers the interval [p+0.5, p+1.5]:
//
//	window[p]      = sum_k w_k (cdf_k(p+1.5) - cdf_k(p+0.5))
//	termination[p] = 1 - sum_k w_k cdf_k(p+1.5)
func MixtureWindow(mix Mixture, window, termination []float64) error {
	m := mix.Len()
	if m <= 0 {
		return errors.New("ops: mixture window needs matching non-empty parameters")
	}

	if len(window) != len(termination) {
		return fmt.Errorf("ops: mixture window length %d does not match termination length %d", len(window), len(termination))
	}

	right := make([]float64, m)
	left := make([]float64, m)

	for p := range window {
		for k := range m {
			right[k] = LogisticCDF(float64(p)+1.5, mix.Loc[k], mix.Scale[k])
			left[k] = LogisticCDF(float64(p)+0.5, mix.Loc[k], mix.Scale[k])
		}

		massRight := floats.Dot(mix.Weight, right)
		// Differences of saturated cdfs can round below zero.
		window[p] = max(0, massRight-floats.Dot(mix.Weight, left))
		termination[p] = 1 - massRight
	}

	return nil
}

// MixtureMean returns sum_k softmax(weightLogits)_k * means_k.
func MixtureMean(means, weightLogits []float64) (float64, error) {
	if len(means) != len(weightLogits) {
		return 0, fmt.Errorf("ops: mixture mean length mismatch %d vs %d", len(means), len(weightLogits))
	}

	w := make([]float64, len(weightLogits))
	if err := SoftmaxF64(w, weightLogits); err != nil {
		return 0, fmt.Errorf("ops: mixture mean: %w", err)
	}

	return floats.Dot(w, means), nil
}
