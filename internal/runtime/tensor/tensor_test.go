package tensor

import (
	"strings"
	"testing"
)

func TestNewRejectsLengthMismatch(t *testing.T) {
	_, err := New([]float32{1, 2, 3}, []int64{2, 2})
	if err == nil || !strings.Contains(err.Error(), "does not match shape") {
		t.Fatalf("expected length mismatch error, got: %v", err)
	}

	_, err = New(nil, []int64{2, -1})
	if err == nil || !strings.Contains(err.Error(), "negative dimension") {
		t.Fatalf("expected negative dimension error, got: %v", err)
	}
}

func TestNewCopiesInput(t *testing.T) {
	src := []float32{1, 2}

	x := mustNew(t, src, []int64{2})
	src[0] = 99

	if got := x.Data()[0]; got != 1 {
		t.Fatalf("New should copy input, got %v", got)
	}
}

func TestFromOwnedSharesInput(t *testing.T) {
	src := []float32{1, 2, 3, 4}

	x, err := FromOwned(src, []int64{2, 2})
	if err != nil {
		t.Fatalf("FromOwned: %v", err)
	}

	src[3] = 7
	if got := x.RawData()[3]; got != 7 {
		t.Fatalf("FromOwned should not copy, got %v", got)
	}

	if _, err := FromOwned(src, []int64{3}); err == nil {
		t.Fatal("expected shape mismatch error")
	}
}

func TestDim(t *testing.T) {
	x := mustNew(t, make([]float32, 24), []int64{2, 3, 4})

	tests := []struct {
		dim  int
		want int64
	}{
		{0, 2},
		{2, 4},
		{-1, 4},
		{-3, 2},
		{3, -1},
	}

	for _, tt := range tests {
		if got := x.Dim(tt.dim); got != tt.want {
			t.Errorf("Dim(%d) = %d, want %d", tt.dim, got, tt.want)
		}
	}

	var nilTensor *Tensor
	if got := nilTensor.Dim(0); got != -1 {
		t.Fatalf("nil Dim = %d, want -1", got)
	}
}

func TestNilTensorAccessors(t *testing.T) {
	var nilTensor *Tensor

	if nilTensor.RawData() != nil || nilTensor.Data() != nil || nilTensor.Shape() != nil {
		t.Fatal("nil tensor accessors should return nil")
	}

	if nilTensor.Rank() != 0 {
		t.Fatal("nil tensor counts should be zero")
	}

	if nilTensor.Clone() != nil {
		t.Fatal("nil Clone should be nil")
	}

	if _, err := nilTensor.Reshape([]int64{1}); err == nil {
		t.Fatal("expected reshape error on nil tensor")
	}
}

func TestReshapePreservesValues(t *testing.T) {
	x := mustNew(t, []float32{1, 2, 3, 4, 5, 6}, []int64{2, 3})

	y, err := x.Reshape([]int64{3, 2})
	if err != nil {
		t.Fatalf("reshape: %v", err)
	}

	if got := y.Shape(); !equalI64(got, []int64{3, 2}) {
		t.Fatalf("shape = %v, want [3 2]", got)
	}

	if got := y.Data(); !equalF32(got, []float32{1, 2, 3, 4, 5, 6}, 0) {
		t.Fatalf("data = %v", got)
	}

	if _, err := x.Reshape([]int64{4}); err == nil || !strings.Contains(err.Error(), "cannot reshape") {
		t.Fatalf("expected reshape mismatch error, got: %v", err)
	}
}

func TestSameShape(t *testing.T) {
	a := mustNew(t, make([]float32, 6), []int64{2, 3})
	b := mustNew(t, make([]float32, 6), []int64{2, 3})
	c := mustNew(t, make([]float32, 6), []int64{3, 2})

	if !SameShape(a, b) {
		t.Fatal("expected equal shapes")
	}

	if SameShape(a, c) || SameShape(a, nil) {
		t.Fatal("expected different shapes")
	}
}

func TestAxpy(t *testing.T) {
	dst := []float32{1, 2, 3}
	Axpy(dst, 0.5, []float32{4, 5})

	if !equalF32(dst, []float32{3, 4.5, 3}, 0) {
		t.Fatalf("Axpy = %v", dst)
	}
}
