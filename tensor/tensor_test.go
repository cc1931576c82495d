package tensor

import (
	"math"
	"testing"
)

func TestMatmulTransposedB(t *testing.T) {
	// A: 2x2, B: 3x2 -> C = A @ B^T: 2x3 with B rows as columns.
	a := FromSlice([]float32{1, 2, 3, 4}, NewShape(2, 2))
	b := FromSlice([]float32{
		1, 0,
		0, 1,
		1, 1,
	}, NewShape(3, 2))

	c := MatmulTransposedB(a, b)
	if !c.Shape().Equal(NewShape(2, 3)) {
		t.Fatalf("expected shape [2, 3], got %v", c.Shape())
	}
	want := []float32{1, 2, 3, 3, 4, 7}
	got := c.DataPtr()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: expected %f, got %f", i, want[i], got[i])
		}
	}
}

func TestMatmulMatchesTransposedB(t *testing.T) {
	a := FromSlice([]float32{1, 2, 3, 4, 5, 6}, NewShape(2, 3))
	b := FromSlice([]float32{7, 8, 9, 10, 11, 12}, NewShape(2, 3))

	viaT := MatmulTransposedB(a, b)
	viaPlain := Matmul(a, b.Transpose())
	for i, v := range viaPlain.DataPtr() {
		if viaT.DataPtr()[i] != v {
			t.Fatalf("index %d: %f != %f", i, viaT.DataPtr()[i], v)
		}
	}
}

func TestTranspose(t *testing.T) {
	a := FromSlice([]float32{1, 2, 3, 4, 5, 6}, NewShape(2, 3))
	tr := a.Transpose()
	if !tr.Shape().Equal(NewShape(3, 2)) {
		t.Fatalf("expected shape [3, 2], got %v", tr.Shape())
	}
	if tr.At(0, 1) != 4 || tr.At(2, 0) != 3 {
		t.Fatalf("unexpected transpose values: %v", tr.DataPtr())
	}
}

func TestRowAndColSums(t *testing.T) {
	a := FromSlice([]float32{1, 2, 3, 4, 5, 6}, NewShape(2, 3))

	rows := a.RowSums()
	if rows[0] != 6 || rows[1] != 15 {
		t.Fatalf("expected row sums [6, 15], got %v", rows)
	}
	cols := a.ColSums()
	if cols[0] != 5 || cols[1] != 7 || cols[2] != 9 {
		t.Fatalf("expected col sums [5, 7, 9], got %v", cols)
	}
}

func TestScaleRowsAndColsInPlace(t *testing.T) {
	a := FromSlice([]float32{1, 2, 3, 4}, NewShape(2, 2))
	a.ScaleRowsInPlace([]float32{2, 10})
	want := []float32{2, 4, 30, 40}
	for i, v := range a.DataPtr() {
		if v != want[i] {
			t.Fatalf("after row scale, index %d: expected %f, got %f", i, want[i], v)
		}
	}

	a.ScaleColsInPlace([]float32{1, 0.5})
	want = []float32{2, 2, 30, 20}
	for i, v := range a.DataPtr() {
		if v != want[i] {
			t.Fatalf("after col scale, index %d: expected %f, got %f", i, want[i], v)
		}
	}
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	a := FromSlice([]float32{1, 2, 3, -5, 0, 5}, NewShape(2, 3))
	p := a.Softmax()
	for i, sum := range p.RowSums() {
		if math.Abs(float64(sum)-1) > 1e-6 {
			t.Fatalf("row %d sums to %f, want 1", i, sum)
		}
	}
	// Larger logit, larger probability.
	if p.At(0, 2) <= p.At(0, 0) {
		t.Fatalf("softmax not monotone: %v", p.DataPtr())
	}
}

func TestConcatAndSliceRows(t *testing.T) {
	a := FromSlice([]float32{1, 2}, NewShape(1, 2))
	b := FromSlice([]float32{3, 4, 5, 6}, NewShape(2, 2))

	c := ConcatRows(a, b)
	if !c.Shape().Equal(NewShape(3, 2)) {
		t.Fatalf("expected shape [3, 2], got %v", c.Shape())
	}
	tail := c.SliceRows(1, 3)
	for i, v := range b.DataPtr() {
		if tail.DataPtr()[i] != v {
			t.Fatalf("index %d: expected %f, got %f", i, v, tail.DataPtr()[i])
		}
	}

	// SliceRows copies: mutating the slice must not touch the source.
	tail.Set(99, 0, 0)
	if c.At(1, 0) == 99 {
		t.Fatal("SliceRows aliases the source storage")
	}
}

func TestNormalizeRowsL2(t *testing.T) {
	a := FromSlice([]float32{3, 4, 0, 0}, NewShape(2, 2))
	a.NormalizeRowsL2()
	if math.Abs(float64(a.At(0, 0))-0.6) > 1e-6 || math.Abs(float64(a.At(0, 1))-0.8) > 1e-6 {
		t.Fatalf("expected unit row [0.6, 0.8], got [%f, %f]", a.At(0, 0), a.At(0, 1))
	}
	// Zero rows stay zero.
	if a.At(1, 0) != 0 || a.At(1, 1) != 0 {
		t.Fatalf("zero row was modified: [%f, %f]", a.At(1, 0), a.At(1, 1))
	}
}
