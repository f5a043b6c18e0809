package model

import "github.com/23skdu/nnue-export/internal/config"

// Schema is the single table of tensor shapes, types and scales shared by
// the checkpoint reader and the deployment writer. Neither file carries
// markers, so ReadOrder and WriteOrder are the only source of region
// boundaries.
type Schema struct {
	Layout     config.Layout
	Specs      map[TensorID]Spec
	ReadOrder  []TensorID
	WriteOrder []TensorID
}

// NewSchema builds the schema for layout. The layout must already be valid.
func NewSchema(l config.Layout) (*Schema, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}

	w0, w1, w2, w3 := l.TransformerWidth, l.L1Width, l.L2Width, l.L3Width
	specs := []Spec{
		{ID: FTWeights, InRows: l.TotalFeatures(), OutRows: l.RealFeatures(), Cols: w0, Scale: l.QuantFT, Type: DTypeInt16},
		{ID: FTBiases, InRows: 1, OutRows: 1, Cols: w0, Scale: l.QuantFT, Type: DTypeInt16},
		{ID: L1Weights, InRows: 2 * w0, OutRows: 2 * w0, Cols: w1, Scale: l.QuantL1, Type: DTypeInt8},
		{ID: L1Biases, InRows: 1, OutRows: 1, Cols: w1, Scale: l.QuantL1, Type: DTypeInt32},
		{ID: L2Weights, InRows: w1, OutRows: w1, Cols: w2, Scale: l.QuantL2, Type: DTypeFloat32},
		{ID: L2Biases, InRows: 1, OutRows: 1, Cols: w2, Scale: l.QuantL2, Type: DTypeFloat32},
		{ID: L3Weights, InRows: w2, OutRows: w2, Cols: w3, Scale: l.QuantL3, Type: DTypeFloat32},
		{ID: L3Biases, InRows: 1, OutRows: 1, Cols: w3, Scale: l.QuantL3, Type: DTypeFloat32},
	}

	s := &Schema{
		Layout: l,
		Specs:  make(map[TensorID]Spec, len(specs)),
		ReadOrder: []TensorID{
			FTWeights, FTBiases,
			L1Weights, L1Biases,
			L2Weights, L2Biases,
			L3Weights, L3Biases,
		},
		WriteOrder: []TensorID{
			FTBiases, FTWeights,
			L1Biases, L1Weights,
			L2Biases, L2Weights,
			L3Biases, L3Weights,
		},
	}
	for _, sp := range specs {
		sp.Name = sp.ID.String()
		s.Specs[sp.ID] = sp
	}
	return s, nil
}

func (s *Schema) Spec(id TensorID) Spec {
	return s.Specs[id]
}

// InputBytes is the exact length of a training checkpoint for this layout.
func (s *Schema) InputBytes() int64 {
	var n int64
	for _, id := range s.ReadOrder {
		n += s.Specs[id].InBytes()
	}
	return n
}

// OutputBytes is the exact length of a deployment model for this layout.
func (s *Schema) OutputBytes() int64 {
	var n int64
	for _, id := range s.WriteOrder {
		n += s.Specs[id].OutBytes()
	}
	return n
}

// OutputRegions lists the deployment model's regions in file order.
func (s *Schema) OutputRegions() []Region {
	regions := make([]Region, 0, len(s.WriteOrder))
	var off int64
	for _, id := range s.WriteOrder {
		sp := s.Specs[id]
		regions = append(regions, Region{ID: id, Name: sp.Name, Type: sp.Type, Offset: off, Length: sp.OutBytes()})
		off += sp.OutBytes()
	}
	return regions
}
