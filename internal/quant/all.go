package quant

import (
	"fmt"

	"github.com/23skdu/nnue-export/internal/logger"
	"github.com/23skdu/nnue-export/internal/metrics"
	"github.com/23skdu/nnue-export/internal/model"
)

// extremesLogged is how many of the largest and smallest inputs are logged
// per tensor at debug level.
const extremesLogged = 8

// QuantizeAll quantizes every tensor of the deployment layout in write
// order. tensors must already hold the collapsed feature transformer.
func QuantizeAll(tensors map[model.TensorID]*model.Tensor, s *model.Schema, opts Options) (map[model.TensorID]*model.Quantized, []Stats, error) {
	out := make(map[model.TensorID]*model.Quantized, len(s.WriteOrder))
	stats := make([]Stats, 0, len(s.WriteOrder))

	for _, id := range s.WriteOrder {
		sp := s.Spec(id)
		t, ok := tensors[id]
		if !ok {
			return nil, nil, fmt.Errorf("quantize: missing %s", sp.Name)
		}

		if logger.Log.DebugEnabled() {
			logger.Log.Debug("quantizing tensor", "tensor", sp.Name, "scale", sp.Scale, "type", sp.Type.String(),
				"largest", Largest(t.Data, extremesLogged), "smallest", Smallest(t.Data, extremesLogged))
		}

		q, st, err := Quantize(t, sp, opts)
		if err != nil {
			return nil, nil, err
		}
		if st.Overflow > 0 {
			logger.Log.Warn("quantized values out of range", "tensor", sp.Name, "type", sp.Type.String(), "count", st.Overflow)
		}
		metrics.RecordTensor(sp.Name, st.Overflow, st.MaxAbsError)

		out[id] = q
		stats = append(stats, st)
	}
	return out, stats, nil
}
