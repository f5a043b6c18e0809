package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/23skdu/nnue-export/internal/logger"
	"github.com/23skdu/nnue-export/internal/metrics"
	"github.com/23skdu/nnue-export/internal/model"
)

// chunkFloats bounds the scratch buffer used while decoding a region.
const chunkFloats = 1 << 16

// ErrUnexpectedEndOfInput is matched by every short-read error.
var ErrUnexpectedEndOfInput = errors.New("unexpected end of input")

// UnexpectedEndError reports a tensor region cut short by the end of the stream.
type UnexpectedEndError struct {
	Tensor string
	Want   int64
	Got    int64
}

func (e *UnexpectedEndError) Error() string {
	return fmt.Sprintf("%s: %v: want %d bytes, got %d", e.Tensor, ErrUnexpectedEndOfInput, e.Want, e.Got)
}

func (e *UnexpectedEndError) Is(target error) bool {
	return target == ErrUnexpectedEndOfInput || target == model.ErrMalformedInput
}

// SizeMismatchError reports a checkpoint whose length differs from the schema.
type SizeMismatchError struct {
	Want int64
	Got  int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("%v: checkpoint is %d bytes, layout requires %d", model.ErrMalformedInput, e.Got, e.Want)
}

func (e *SizeMismatchError) Unwrap() error { return model.ErrMalformedInput }

// CheckSize fails unless size is exactly the checkpoint length the schema implies.
func CheckSize(size int64, s *model.Schema) error {
	if want := s.InputBytes(); size != want {
		return &SizeMismatchError{Want: want, Got: size}
	}
	return nil
}

// ReadTensor reads rows*cols little-endian float32 values from r. The
// stream is left positioned just past the region.
func ReadTensor(r io.Reader, name string, rows, cols int) (*model.Tensor, error) {
	t := model.NewTensor(name, rows, cols)
	want := int64(t.Len()) * 4

	buf := make([]byte, min(t.Len(), chunkFloats)*4)
	var got int64
	for off := 0; off < t.Len(); {
		n := min(t.Len()-off, chunkFloats)
		read, err := io.ReadFull(r, buf[:n*4])
		got += int64(read)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, &UnexpectedEndError{Tensor: name, Want: want, Got: got}
			}
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		for i := 0; i < n; i++ {
			t.Data[off+i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		}
		off += n
	}

	metrics.RecordRead(want)
	return t, nil
}

// ReadAll reads every tensor of the schema in checkpoint order.
func ReadAll(r io.Reader, s *model.Schema) (*model.Checkpoint, error) {
	ckpt := model.NewCheckpoint()
	for _, id := range s.ReadOrder {
		sp := s.Spec(id)
		t, err := ReadTensor(r, sp.Name, sp.InRows, sp.Cols)
		if err != nil {
			return nil, err
		}
		logger.Log.Debug("tensor read", "tensor", sp.Name, "rows", sp.InRows, "cols", sp.Cols)
		ckpt.Tensors[id] = t
	}
	return ckpt, nil
}

// LoadFile validates the checkpoint length against the schema before
// reading it, so a truncated file fails without decoding anything.
func LoadFile(path string, s *model.Schema) (*model.Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat checkpoint: %w", err)
	}
	if err := CheckSize(info.Size(), s); err != nil {
		return nil, err
	}
	return ReadAll(f, s)
}
