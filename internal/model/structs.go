package model

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedInput marks a checkpoint whose size or shape disagrees with the layout.
	ErrMalformedInput = errors.New("malformed input")
	// ErrQuantizationOverflow marks a value that does not fit its target integer type.
	ErrQuantizationOverflow = errors.New("quantization overflow")
)

type DType uint32

const (
	DTypeFloat32 DType = iota
	DTypeInt8
	DTypeInt16
	DTypeInt32
)

// Size returns the encoded width of one element in bytes.
func (d DType) Size() int {
	switch d {
	case DTypeInt8:
		return 1
	case DTypeInt16:
		return 2
	case DTypeFloat32, DTypeInt32:
		return 4
	default:
		return 0
	}
}

func (d DType) IsInteger() bool {
	return d == DTypeInt8 || d == DTypeInt16 || d == DTypeInt32
}

// Bounds returns the inclusive integer range representable by d.
func (d DType) Bounds() (lo, hi int64) {
	switch d {
	case DTypeInt8:
		return -1 << 7, 1<<7 - 1
	case DTypeInt16:
		return -1 << 15, 1<<15 - 1
	case DTypeInt32:
		return -1 << 31, 1<<31 - 1
	default:
		return 0, 0
	}
}

func (d DType) String() string {
	switch d {
	case DTypeFloat32:
		return "float32"
	case DTypeInt8:
		return "int8"
	case DTypeInt16:
		return "int16"
	case DTypeInt32:
		return "int32"
	default:
		return fmt.Sprintf("UNKNOWN_DTYPE_%d", uint32(d))
	}
}

type TensorID int

const (
	FTWeights TensorID = iota
	FTBiases
	L1Weights
	L1Biases
	L2Weights
	L2Biases
	L3Weights
	L3Biases
)

func (id TensorID) String() string {
	switch id {
	case FTWeights:
		return "ft_weights"
	case FTBiases:
		return "ft_biases"
	case L1Weights:
		return "l1_weights"
	case L1Biases:
		return "l1_biases"
	case L2Weights:
		return "l2_weights"
	case L2Biases:
		return "l2_biases"
	case L3Weights:
		return "l3_weights"
	case L3Biases:
		return "l3_biases"
	default:
		return fmt.Sprintf("tensor_%d", int(id))
	}
}

// Spec is one row of the schema table. InRows is the row count in the
// training checkpoint and OutRows the row count in the deployment model;
// they differ only where collapse removes the virtual block.
type Spec struct {
	ID      TensorID
	Name    string
	InRows  int
	OutRows int
	Cols    int
	Scale   int
	Type    DType
}

func (s Spec) InLen() int  { return s.InRows * s.Cols }
func (s Spec) OutLen() int { return s.OutRows * s.Cols }

// InBytes is the size of the float32 region in the training checkpoint.
func (s Spec) InBytes() int64 {
	return int64(s.InLen()) * 4
}

// OutBytes is the size of the encoded region in the deployment model.
func (s Spec) OutBytes() int64 {
	return int64(s.OutLen()) * int64(s.Type.Size())
}

// Region locates one encoded tensor inside the deployment model.
type Region struct {
	ID     TensorID
	Name   string
	Type   DType
	Offset int64
	Length int64
}

func (r Region) End() int64 { return r.Offset + r.Length }
