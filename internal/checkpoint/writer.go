package checkpoint

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/23skdu/nnue-export/internal/model"
)

// WriteAll serializes ckpt in the training layout. It produces fixtures
// for the converter and mirrors what the trainer emits.
func WriteAll(w io.Writer, s *model.Schema, ckpt *model.Checkpoint) error {
	bw := bufio.NewWriter(w)
	for _, id := range s.ReadOrder {
		sp := s.Spec(id)
		t := ckpt.Get(id)
		if t == nil {
			return fmt.Errorf("checkpoint missing %s", sp.Name)
		}
		if t.Len() != sp.InLen() {
			return fmt.Errorf("%s: has %d values, layout requires %d", sp.Name, t.Len(), sp.InLen())
		}
		if err := binary.Write(bw, binary.LittleEndian, t.Data); err != nil {
			return fmt.Errorf("write %s: %w", sp.Name, err)
		}
	}
	return bw.Flush()
}

// Zeros returns a checkpoint of the schema's shapes with every value zero.
func Zeros(s *model.Schema) *model.Checkpoint {
	ckpt := model.NewCheckpoint()
	for _, id := range s.ReadOrder {
		sp := s.Spec(id)
		ckpt.Tensors[id] = model.NewTensor(sp.Name, sp.InRows, sp.Cols)
	}
	return ckpt
}
