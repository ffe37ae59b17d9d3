package tensor

// dotF32 computes the dot product of two equal-length float32 slices.
// len(a) must equal len(b); the caller is responsible for this.
func dotF32(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}

	return sum
}
