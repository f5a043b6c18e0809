package export

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/23skdu/nnue-export/internal/model"
)

// Decode parses a deployment model laid out by s. The stream must end
// exactly after the last region.
func Decode(r io.Reader, s *model.Schema) (map[model.TensorID]*model.Quantized, error) {
	br := bufio.NewReader(r)
	out := make(map[model.TensorID]*model.Quantized, len(s.WriteOrder))
	for _, id := range s.WriteOrder {
		sp := s.Spec(id)
		q := model.NewQuantized(sp)
		if err := binary.Read(br, binary.LittleEndian, q.Values()); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: deployment model ends inside %s", model.ErrMalformedInput, sp.Name)
			}
			return nil, fmt.Errorf("read %s: %w", sp.Name, err)
		}
		out[id] = q
	}
	if _, err := br.ReadByte(); err == nil {
		return nil, fmt.Errorf("%w: trailing bytes after %s", model.ErrMalformedInput, s.WriteOrder[len(s.WriteOrder)-1])
	} else if !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read trailer: %w", err)
	}
	return out, nil
}

// DecodeFile checks the file length against the schema and decodes it.
func DecodeFile(path string, s *model.Schema) (map[model.TensorID]*model.Quantized, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open deployment model: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat deployment model: %w", err)
	}
	if want := s.OutputBytes(); info.Size() != want {
		return nil, fmt.Errorf("%w: deployment model is %d bytes, layout requires %d",
			model.ErrMalformedInput, info.Size(), want)
	}
	return Decode(f, s)
}
