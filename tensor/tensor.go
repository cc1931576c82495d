// Package tensor implements dense float32 tensors in row-major flat
// storage. It carries only the operations the assignment core needs:
// similarity matmuls, softmax, row/column reductions and in-place
// row/column rescaling for the iterative normalization.
package tensor

import (
	"fmt"
	"math"
	"math/rand"
)

// DType enumerates supported data types. Only F32 is used at runtime.
type DType uint8

const (
	F32 DType = iota
	F16
)

// Size returns the byte width of the data type.
func (d DType) Size() int {
	if d == F16 {
		return 2
	}
	return 4
}

// String returns a human-readable name for the data type.
func (d DType) String() string {
	if d == F16 {
		return "f16"
	}
	return "f32"
}

// Tensor stores multi-dimensional float32 data in a contiguous flat slice.
// Row-major layout: the last dimension varies fastest. Operations allocate
// new tensors unless suffixed with "InPlace".
type Tensor struct {
	data  []float32
	shape Shape
	dtype DType
}

// New allocates a zero-filled tensor of the given shape and dtype.
func New(shape Shape, dtype DType) *Tensor {
	return &Tensor{data: make([]float32, shape.Numel()), shape: shape, dtype: dtype}
}

// Zeros is an alias for New (zero-filled tensor).
func Zeros(shape Shape, dtype DType) *Tensor { return New(shape, dtype) }

// Ones allocates a tensor filled with 1.0.
func Ones(shape Shape, dtype DType) *Tensor {
	t := New(shape, dtype)
	for i := range t.data {
		t.data[i] = 1
	}
	return t
}

// FromSlice creates a tensor by copying the provided data.
// Panics if len(data) != shape.Numel().
func FromSlice(data []float32, shape Shape) *Tensor {
	if len(data) != shape.Numel() {
		panic(fmt.Sprintf("data length %d != shape numel %d", len(data), shape.Numel()))
	}
	d := make([]float32, len(data))
	copy(d, data)
	return &Tensor{data: d, shape: shape, dtype: F32}
}

// Randn allocates a tensor filled with standard normal random values.
func Randn(shape Shape, dtype DType) *Tensor {
	t := New(shape, dtype)
	for i := range t.data {
		t.data[i] = float32(rand.NormFloat64())
	}
	return t
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape { return t.shape }

// DType returns the tensor's data type tag.
func (t *Tensor) DType() DType { return t.dtype }

// Data returns a copy of the underlying storage.
func (t *Tensor) Data() []float32 {
	d := make([]float32, len(t.data))
	copy(d, t.data)
	return d
}

// DataPtr returns the underlying storage slice directly (no copy).
// Callers may mutate elements in place; use Data() for a safe copy.
func (t *Tensor) DataPtr() []float32 { return t.data }

// flatIndex converts multi-dimensional indices to a flat offset using
// row-major strides. Panics on out-of-bounds access.
func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != t.shape.NDim() {
		panic(fmt.Sprintf("expected %d indices, got %d", t.shape.NDim(), len(indices)))
	}
	idx := 0
	strides := t.shape.Strides()
	for i, index := range indices {
		if index < 0 || index >= t.shape.At(i) {
			panic(fmt.Sprintf("index %d out of bounds for dim %d with size %d", index, i, t.shape.At(i)))
		}
		idx += index * strides[i]
	}
	return idx
}

// At reads a single element by multi-dimensional index.
func (t *Tensor) At(indices ...int) float32 { return t.data[t.flatIndex(indices)] }

// Set writes a single element by multi-dimensional index.
func (t *Tensor) Set(value float32, indices ...int) { t.data[t.flatIndex(indices)] = value }

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor { return FromSlice(t.data, t.shape) }

// ScaleInPlace multiplies every element of t by s, mutating t.
func (t *Tensor) ScaleInPlace(s float32) {
	for i := range t.data {
		t.data[i] *= s
	}
}

// Sum returns the sum of all elements.
func (t *Tensor) Sum() float32 {
	sum := float32(0)
	for _, v := range t.data {
		sum += v
	}
	return sum
}

// Mean returns the arithmetic mean of all elements.
func (t *Tensor) Mean() float32 { return t.Sum() / float32(len(t.data)) }

// rowsCols panics unless t is 2-D, returning its dimensions.
func (t *Tensor) rowsCols(op string) (rows, cols int) {
	if t.shape.NDim() != 2 {
		panic(op + " requires a 2D tensor")
	}
	return t.shape.At(0), t.shape.At(1)
}

// RowSums returns the per-row sums of a 2-D tensor (length = rows).
func (t *Tensor) RowSums() []float32 {
	rows, cols := t.rowsCols("RowSums")
	out := make([]float32, rows)
	for i := 0; i < rows; i++ {
		sum := float32(0)
		for _, v := range t.data[i*cols : (i+1)*cols] {
			sum += v
		}
		out[i] = sum
	}
	return out
}

// ColSums returns the per-column sums of a 2-D tensor (length = cols).
func (t *Tensor) ColSums() []float32 {
	rows, cols := t.rowsCols("ColSums")
	out := make([]float32, cols)
	for i := 0; i < rows; i++ {
		row := t.data[i*cols : (i+1)*cols]
		for j, v := range row {
			out[j] += v
		}
	}
	return out
}

// ScaleRowsInPlace multiplies row i of a 2-D tensor by s[i].
func (t *Tensor) ScaleRowsInPlace(s []float32) {
	rows, cols := t.rowsCols("ScaleRowsInPlace")
	if len(s) != rows {
		panic(fmt.Sprintf("row scale length %d != rows %d", len(s), rows))
	}
	for i := 0; i < rows; i++ {
		row := t.data[i*cols : (i+1)*cols]
		for j := range row {
			row[j] *= s[i]
		}
	}
}

// ScaleColsInPlace multiplies column j of a 2-D tensor by s[j].
func (t *Tensor) ScaleColsInPlace(s []float32) {
	rows, cols := t.rowsCols("ScaleColsInPlace")
	if len(s) != cols {
		panic(fmt.Sprintf("col scale length %d != cols %d", len(s), cols))
	}
	for i := 0; i < rows; i++ {
		row := t.data[i*cols : (i+1)*cols]
		for j := range row {
			row[j] *= s[j]
		}
	}
}

// SliceRows copies rows [from, to) of a 2-D tensor into a new tensor.
func (t *Tensor) SliceRows(from, to int) *Tensor {
	rows, cols := t.rowsCols("SliceRows")
	if from < 0 || to > rows || from > to {
		panic(fmt.Sprintf("row slice [%d, %d) out of bounds for %d rows", from, to, rows))
	}
	return FromSlice(t.data[from*cols:to*cols], NewShape(to-from, cols))
}

// ConcatRows stacks two 2-D tensors with equal column counts, a on top of b.
func ConcatRows(a, b *Tensor) *Tensor {
	aRows, aCols := a.rowsCols("ConcatRows")
	bRows, bCols := b.rowsCols("ConcatRows")
	if aCols != bCols {
		panic(fmt.Sprintf("concat column mismatch: %d vs %d", aCols, bCols))
	}
	out := New(NewShape(aRows+bRows, aCols), a.dtype)
	copy(out.data, a.data)
	copy(out.data[aRows*aCols:], b.data)
	return out
}

// NormalizeRowsL2 rescales every row of a 2-D tensor to unit L2 norm,
// in place. Zero rows are left untouched.
func (t *Tensor) NormalizeRowsL2() {
	rows, cols := t.rowsCols("NormalizeRowsL2")
	for i := 0; i < rows; i++ {
		row := t.data[i*cols : (i+1)*cols]
		sumSq := float32(0)
		for _, v := range row {
			sumSq += v * v
		}
		if sumSq == 0 {
			continue
		}
		inv := 1 / float32(math.Sqrt(float64(sumSq)))
		for j := range row {
			row[j] *= inv
		}
	}
}

// softmaxCore computes row-wise softmax from src into dst along the last
// dimension. Max-subtraction keeps the exponential from overflowing.
func softmaxCore(src, dst []float32, lastDim, numVectors int) {
	for v := 0; v < numVectors; v++ {
		off := v * lastDim
		sRow := src[off : off+lastDim]
		dRow := dst[off : off+lastDim]

		maxVal := sRow[0]
		for i := 1; i < lastDim; i++ {
			if sRow[i] > maxVal {
				maxVal = sRow[i]
			}
		}
		sum := float32(0)
		for i := 0; i < lastDim; i++ {
			e := float32(math.Exp(float64(sRow[i] - maxVal)))
			dRow[i] = e
			sum += e
		}
		invSum := 1.0 / sum
		for i := 0; i < lastDim; i++ {
			dRow[i] *= invSum
		}
	}
}

// Softmax computes row-wise softmax along the last dimension.
//
//	p_i = exp(x_i - max(x)) / sum_j(exp(x_j - max(x)))
func (t *Tensor) Softmax() *Tensor {
	if t.shape.NDim() < 1 {
		panic("softmax requires at least 1 dimension")
	}
	result := New(t.shape, t.dtype)
	lastDim := t.shape.At(-1)
	numVectors := t.shape.Numel() / lastDim
	softmaxCore(t.data, result.data, lastDim, numVectors)
	return result
}

// Matmul computes C = A @ B for 2-D tensors: [M, K] x [K, N] -> [M, N].
func Matmul(a, b *Tensor) *Tensor {
	aM, aK := a.rowsCols("Matmul")
	bK, bN := b.rowsCols("Matmul")
	if aK != bK {
		panic(fmt.Sprintf("matmul dimension mismatch: %d vs %d", aK, bK))
	}
	result := New(NewShape(aM, bN), a.dtype)
	for i := 0; i < aM; i++ {
		aRow := a.data[i*aK : (i+1)*aK]
		cRow := result.data[i*bN : (i+1)*bN]
		for k, av := range aRow {
			if av == 0 {
				continue
			}
			bRow := b.data[k*bN : (k+1)*bN]
			for j, bv := range bRow {
				cRow[j] += av * bv
			}
		}
	}
	return result
}

// MatmulTransposedB computes C = A @ B^T without materializing the
// transpose. A: [M, K], B: [N, K] -> C: [M, N]. This is the hot path for
// similarity scores against unit-normalized prototype rows.
func MatmulTransposedB(a, b *Tensor) *Tensor {
	aM, aK := a.rowsCols("MatmulTransposedB")
	bN, bK := b.rowsCols("MatmulTransposedB")
	if aK != bK {
		panic(fmt.Sprintf("matmulT dimension mismatch: %d vs %d", aK, bK))
	}
	result := New(NewShape(aM, bN), a.dtype)
	for i := 0; i < aM; i++ {
		aRow := a.data[i*aK : (i+1)*aK]
		cRow := result.data[i*bN : (i+1)*bN]
		for j := 0; j < bN; j++ {
			bRow := b.data[j*bK : (j+1)*bK]
			sum := float32(0)
			for k := range aRow {
				sum += aRow[k] * bRow[k]
			}
			cRow[j] = sum
		}
	}
	return result
}

// Transpose swaps the two dimensions of a 2-D tensor by explicit copy.
// Flat index mapping: dst[j*rows + i] = src[i*cols + j].
func (t *Tensor) Transpose() *Tensor {
	rows, cols := t.rowsCols("Transpose")
	result := New(NewShape(cols, rows), t.dtype)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			result.data[j*rows+i] = t.data[i*cols+j]
		}
	}
	return result
}
