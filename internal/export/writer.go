package export

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/23skdu/nnue-export/internal/logger"
	"github.com/23skdu/nnue-export/internal/metrics"
	"github.com/23skdu/nnue-export/internal/model"
)

// countingWriter tracks how many bytes reached the underlying writer.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Write encodes qs as a deployment model: the schema's write order, each
// array little-endian and row-major, with nothing between regions.
func Write(w io.Writer, s *model.Schema, qs map[model.TensorID]*model.Quantized) (int64, error) {
	for _, id := range s.WriteOrder {
		sp := s.Spec(id)
		q, ok := qs[id]
		if !ok {
			return 0, fmt.Errorf("export: missing %s", sp.Name)
		}
		if q.Spec.Type != sp.Type || q.Len() != sp.OutLen() {
			return 0, fmt.Errorf("export: %s is %d x %s, layout requires %d x %s",
				sp.Name, q.Len(), q.Spec.Type, sp.OutLen(), sp.Type)
		}
	}

	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)
	for _, id := range s.WriteOrder {
		q := qs[id]
		if err := binary.Write(bw, binary.LittleEndian, q.Values()); err != nil {
			return cw.n, fmt.Errorf("write %s: %w", q.Spec.Name, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return cw.n, fmt.Errorf("flush deployment model: %w", err)
	}
	return cw.n, nil
}

// Staged is a fully written and synced deployment model that has not yet
// been renamed to its destination.
type Staged struct {
	path string
	tmp  string
	n    int64
	done bool
}

// Stage writes the deployment model to a temporary file next to path. The
// destination is untouched until Commit; Abort discards the temporary file.
func Stage(path string, s *model.Schema, qs map[model.TensorID]*model.Quantized) (st *Staged, err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp output: %w", err)
	}
	st = &Staged{path: path, tmp: tmp.Name()}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			st.Abort()
			st = nil
		}
	}()

	st.n, err = Write(tmp, s, qs)
	if err != nil {
		return st, err
	}
	if err = tmp.Sync(); err != nil {
		return st, fmt.Errorf("sync output: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return st, fmt.Errorf("close output: %w", err)
	}
	if err = os.Chmod(st.tmp, 0o644); err != nil {
		return st, fmt.Errorf("chmod output: %w", err)
	}
	return st, nil
}

// TempPath is where the staged bytes live until Commit.
func (st *Staged) TempPath() string { return st.tmp }

// Bytes is the size of the staged model.
func (st *Staged) Bytes() int64 { return st.n }

// Commit renames the staged file to its destination.
func (st *Staged) Commit() error {
	if st.done {
		return fmt.Errorf("export: %s already committed or aborted", st.path)
	}
	if err := os.Rename(st.tmp, st.path); err != nil {
		st.Abort()
		return fmt.Errorf("rename output: %w", err)
	}
	st.done = true

	metrics.RecordWrite(st.n)
	logger.Log.Debug("deployment model written", "path", st.path, "bytes", st.n)
	return nil
}

// Abort removes the staged file. It is a no-op after Commit.
func (st *Staged) Abort() {
	if st.done {
		return
	}
	st.done = true
	if err := os.Remove(st.tmp); err != nil && !os.IsNotExist(err) {
		logger.Log.Warn("failed to remove temp output", "path", st.tmp, "error", err)
	}
}

// WriteFile writes the deployment model to path via a temporary file in the
// same directory that is renamed into place only after a successful sync.
// On failure the destination is left untouched.
func WriteFile(path string, s *model.Schema, qs map[model.TensorID]*model.Quantized) (int64, error) {
	st, err := Stage(path, s, qs)
	if err != nil {
		return 0, err
	}
	if err := st.Commit(); err != nil {
		return 0, err
	}
	return st.Bytes(), nil
}
