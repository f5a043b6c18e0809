package config

import (
	"errors"
	"fmt"
)

// ErrInvalidLayout is returned by Layout.Validate for inconsistent shapes.
var ErrInvalidLayout = errors.New("invalid network layout")

// Layout describes the network shape and the per-layer quantization scales.
// It is passed by value and never mutated after construction.
type Layout struct {
	KingBuckets int
	Relations   int
	Squares     int

	TransformerWidth int
	L1Width          int
	L2Width          int
	L3Width          int

	QuantFT int
	QuantL1 int
	QuantL2 int
	QuantL3 int
}

// DefaultLayout returns the reference HalfKP layout with virtual PSQT features.
func DefaultLayout() Layout {
	return Layout{
		KingBuckets: 32,
		Relations:   10,
		Squares:     64,

		TransformerWidth: 768,
		L1Width:          8,
		L2Width:          32,
		L3Width:          1,

		QuantFT: 64,
		QuantL1: 32,
		QuantL2: 1,
		QuantL3: 1,
	}
}

// BlockSize is the number of rows in one king bucket's (relation, square) block.
func (l Layout) BlockSize() int {
	return l.Relations * l.Squares
}

func (l Layout) RealFeatures() int {
	return l.KingBuckets * l.BlockSize()
}

func (l Layout) VirtualFeatures() int {
	return l.BlockSize()
}

func (l Layout) TotalFeatures() int {
	return l.RealFeatures() + l.VirtualFeatures()
}

// Validate rejects non-positive dimensions and scales. Feature counts are
// derived from the dimensions, so every block split they imply is exact.
func (l Layout) Validate() error {
	dims := []struct {
		name string
		v    int
	}{
		{"king_buckets", l.KingBuckets},
		{"relations", l.Relations},
		{"squares", l.Squares},
		{"transformer_width", l.TransformerWidth},
		{"l1_width", l.L1Width},
		{"l2_width", l.L2Width},
		{"l3_width", l.L3Width},
		{"quant_ft", l.QuantFT},
		{"quant_l1", l.QuantL1},
		{"quant_l2", l.QuantL2},
		{"quant_l3", l.QuantL3},
	}
	for _, d := range dims {
		if d.v <= 0 {
			return fmt.Errorf("%w: %s = %d (must be positive)", ErrInvalidLayout, d.name, d.v)
		}
	}
	return nil
}
