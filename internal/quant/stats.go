package quant

import (
	"math"
	"slices"

	"github.com/23skdu/nnue-export/internal/model"
)

// Stats summarizes one quantized tensor. Min and Max are over the stored
// values; MaxAbsError is the largest |f - stored/scale| among values that
// fit their target type.
type Stats struct {
	Name        string
	Type        model.DType
	Scale       int
	Count       int
	Min         float64
	Max         float64
	Overflow    int
	MaxAbsError float64
}

func newStats(spec model.Spec) Stats {
	return Stats{
		Name:  spec.Name,
		Type:  spec.Type,
		Scale: spec.Scale,
		Min:   math.Inf(1),
		Max:   math.Inf(-1),
	}
}

func (s *Stats) observe(f float32, stored, decoded float64, inRange bool) {
	s.Count++
	s.Min = math.Min(s.Min, stored)
	s.Max = math.Max(s.Max, stored)
	if !inRange {
		s.Overflow++
		return
	}
	if e := math.Abs(float64(f) - decoded); e > s.MaxAbsError {
		s.MaxAbsError = e
	}
}

// ErrorBound is the largest rounding error permitted for in-range values.
func (s Stats) ErrorBound() float64 {
	if !s.Type.IsInteger() {
		return 0
	}
	return 0.5 / float64(s.Scale)
}

// Largest returns the n largest values of data in ascending order.
func Largest(data []float32, n int) []float32 {
	sorted := slices.Clone(data)
	slices.Sort(sorted)
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[len(sorted)-n:]
}

// Smallest returns the n smallest values of data in ascending order.
func Smallest(data []float32, n int) []float32 {
	sorted := slices.Clone(data)
	slices.Sort(sorted)
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}
