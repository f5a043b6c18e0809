package model

import "fmt"

// Tensor is a row-major float32 matrix. Bias vectors have Rows == 1.
type Tensor struct {
	Name string
	Rows int
	Cols int
	Data []float32
}

func NewTensor(name string, rows, cols int) *Tensor {
	return &Tensor{Name: name, Rows: rows, Cols: cols, Data: make([]float32, rows*cols)}
}

func (t *Tensor) Len() int { return t.Rows * t.Cols }

// Row returns a view of row i.
func (t *Tensor) Row(i int) []float32 {
	return t.Data[i*t.Cols : (i+1)*t.Cols]
}

// Slice returns a view of n rows starting at row start. Writes through the
// view modify t.
func (t *Tensor) Slice(start, n int) []float32 {
	return t.Data[start*t.Cols : (start+n)*t.Cols]
}

func (t *Tensor) Clone() *Tensor {
	c := &Tensor{Name: t.Name, Rows: t.Rows, Cols: t.Cols, Data: make([]float32, len(t.Data))}
	copy(c.Data, t.Data)
	return c
}

func (t *Tensor) String() string {
	return fmt.Sprintf("%s(%dx%d)", t.Name, t.Rows, t.Cols)
}

// Checkpoint holds every tensor of a training checkpoint keyed by ID.
type Checkpoint struct {
	Tensors map[TensorID]*Tensor
}

func NewCheckpoint() *Checkpoint {
	return &Checkpoint{Tensors: make(map[TensorID]*Tensor)}
}

func (c *Checkpoint) Get(id TensorID) *Tensor {
	return c.Tensors[id]
}

// Quantized is a tensor converted to its deployment representation. Exactly
// one of the typed slices is populated, matching Spec.Type.
type Quantized struct {
	Spec    Spec
	Int8    []int8
	Int16   []int16
	Int32   []int32
	Float32 []float32
}

func NewQuantized(spec Spec) *Quantized {
	q := &Quantized{Spec: spec}
	n := spec.OutLen()
	switch spec.Type {
	case DTypeInt8:
		q.Int8 = make([]int8, n)
	case DTypeInt16:
		q.Int16 = make([]int16, n)
	case DTypeInt32:
		q.Int32 = make([]int32, n)
	default:
		q.Float32 = make([]float32, n)
	}
	return q
}

// Values returns the populated slice, suitable for binary.Write.
func (q *Quantized) Values() interface{} {
	switch q.Spec.Type {
	case DTypeInt8:
		return q.Int8
	case DTypeInt16:
		return q.Int16
	case DTypeInt32:
		return q.Int32
	default:
		return q.Float32
	}
}

func (q *Quantized) Len() int {
	switch q.Spec.Type {
	case DTypeInt8:
		return len(q.Int8)
	case DTypeInt16:
		return len(q.Int16)
	case DTypeInt32:
		return len(q.Int32)
	default:
		return len(q.Float32)
	}
}

// At returns element i widened to float64.
func (q *Quantized) At(i int) float64 {
	switch q.Spec.Type {
	case DTypeInt8:
		return float64(q.Int8[i])
	case DTypeInt16:
		return float64(q.Int16[i])
	case DTypeInt32:
		return float64(q.Int32[i])
	default:
		return float64(q.Float32[i])
	}
}

func (q *Quantized) Bytes() int64 {
	return int64(q.Len()) * int64(q.Spec.Type.Size())
}
