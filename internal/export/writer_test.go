package export

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/23skdu/nnue-export/internal/config"
	"github.com/23skdu/nnue-export/internal/model"
)

func smallSchema(t *testing.T) *model.Schema {
	t.Helper()
	s, err := model.NewSchema(config.Layout{
		KingBuckets: 2, Relations: 1, Squares: 2,
		TransformerWidth: 3, L1Width: 2, L2Width: 2, L3Width: 1,
		QuantFT: 64, QuantL1: 32, QuantL2: 1, QuantL3: 1,
	})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	return s
}

// markedModel fills each region with a value identifying its tensor, so a
// misplaced region shows up at the wrong offset.
func markedModel(s *model.Schema) map[model.TensorID]*model.Quantized {
	qs := make(map[model.TensorID]*model.Quantized)
	for _, id := range s.WriteOrder {
		q := model.NewQuantized(s.Spec(id))
		mark := int(id) + 1
		for i := 0; i < q.Len(); i++ {
			switch q.Spec.Type {
			case model.DTypeInt8:
				q.Int8[i] = int8(mark)
			case model.DTypeInt16:
				q.Int16[i] = int16(mark)
			case model.DTypeInt32:
				q.Int32[i] = int32(mark)
			default:
				q.Float32[i] = float32(mark)
			}
		}
		qs[id] = q
	}
	return qs
}

func readMark(b []byte, dt model.DType) int {
	switch dt {
	case model.DTypeInt8:
		return int(int8(b[0]))
	case model.DTypeInt16:
		return int(int16(binary.LittleEndian.Uint16(b)))
	case model.DTypeInt32:
		return int(int32(binary.LittleEndian.Uint32(b)))
	default:
		return int(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}
}

func TestWriteRegionBoundaries(t *testing.T) {
	s := smallSchema(t)
	var buf bytes.Buffer

	n, err := Write(&buf, s, markedModel(s))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != s.OutputBytes() || int64(buf.Len()) != n {
		t.Fatalf("wrote %d bytes (buffer %d), want %d", n, buf.Len(), s.OutputBytes())
	}

	data := buf.Bytes()
	for _, r := range s.OutputRegions() {
		size := int64(r.Type.Size())
		for off := r.Offset; off < r.End(); off += size {
			if got := readMark(data[off:off+size], r.Type); got != int(r.ID)+1 {
				t.Fatalf("%s at byte %d holds mark %d, want %d", r.Name, off, got, int(r.ID)+1)
			}
		}
	}
}

func TestWriteRejectsSwappedOrder(t *testing.T) {
	s := smallSchema(t)
	swapped := *s
	swapped.WriteOrder = append([]model.TensorID(nil), s.WriteOrder...)
	swapped.WriteOrder[0], swapped.WriteOrder[1] = swapped.WriteOrder[1], swapped.WriteOrder[0]

	var buf bytes.Buffer
	if _, err := Write(&buf, &swapped, markedModel(s)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Same total length, but the first region no longer carries ft biases.
	first := s.OutputRegions()[0]
	if got := readMark(buf.Bytes()[first.Offset:], first.Type); got == int(model.FTBiases)+1 {
		t.Error("swapped write order went undetected at the ft biases boundary")
	}
}

func TestWriteValidatesInput(t *testing.T) {
	s := smallSchema(t)

	missing := markedModel(s)
	delete(missing, model.L1Weights)
	if _, err := Write(io.Discard, s, missing); err == nil {
		t.Error("expected error for missing tensor")
	}

	wrongType := markedModel(s)
	sp := s.Spec(model.L1Weights)
	sp.Type = model.DTypeInt16
	wrongType[model.L1Weights] = model.NewQuantized(sp)
	if _, err := Write(io.Discard, s, wrongType); err == nil {
		t.Error("expected error for wrong element type")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	s := smallSchema(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "exported.nn")

	if err := os.WriteFile(path, []byte("previous"), 0o644); err != nil {
		t.Fatal(err)
	}

	bad := markedModel(s)
	delete(bad, model.L3Biases)
	if _, err := WriteFile(path, s, bad); err == nil {
		t.Fatal("expected error")
	}
	if data, _ := os.ReadFile(path); string(data) != "previous" {
		t.Errorf("failed write replaced the destination: %q", data)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temp file left behind: %v", entries)
	}

	n, err := WriteFile(path, s, markedModel(s))
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != n || n != s.OutputBytes() {
		t.Errorf("file size %d, written %d, want %d", info.Size(), n, s.OutputBytes())
	}
}

func TestStageCommitAndAbort(t *testing.T) {
	s := smallSchema(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "exported.nn")

	if err := os.WriteFile(path, []byte("previous"), 0o644); err != nil {
		t.Fatal(err)
	}

	st, err := Stage(path, s, markedModel(s))
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if st.Bytes() != s.OutputBytes() {
		t.Errorf("staged %d bytes, want %d", st.Bytes(), s.OutputBytes())
	}
	if data, _ := os.ReadFile(path); string(data) != "previous" {
		t.Errorf("Stage touched the destination: %q", data)
	}
	if _, err := DecodeFile(st.TempPath(), s); err != nil {
		t.Errorf("staged file does not decode: %v", err)
	}
	st.Abort()
	if _, err := os.Stat(st.TempPath()); !os.IsNotExist(err) {
		t.Errorf("temp file survives Abort: %v", err)
	}
	if err := st.Commit(); err == nil {
		t.Error("expected Commit after Abort to fail")
	}
	if data, _ := os.ReadFile(path); string(data) != "previous" {
		t.Errorf("aborted stage replaced the destination: %q", data)
	}

	st, err = Stage(path, s, markedModel(s))
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if err := st.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	st.Abort()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != s.OutputBytes() {
		t.Errorf("committed size %d, want %d", info.Size(), s.OutputBytes())
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temp file left behind: %v", entries)
	}
}

func TestWriteFileMissingDir(t *testing.T) {
	s := smallSchema(t)
	path := filepath.Join(t.TempDir(), "nope", "exported.nn")
	if _, err := WriteFile(path, s, markedModel(s)); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	s := smallSchema(t)
	want := markedModel(s)
	want[model.FTWeights].Int16[0] = -32768
	want[model.L1Weights].Int8[1] = -128
	want[model.L2Biases].Float32[0] = -0.375

	path := filepath.Join(t.TempDir(), "exported.nn")
	if _, err := WriteFile(path, s, want); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := DecodeFile(path, s)
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}
	for _, id := range s.WriteOrder {
		for i := 0; i < want[id].Len(); i++ {
			if got[id].At(i) != want[id].At(i) {
				t.Fatalf("%s[%d] = %v, want %v", id, i, got[id].At(i), want[id].At(i))
			}
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	s := smallSchema(t)
	var buf bytes.Buffer
	if _, err := Write(&buf, s, markedModel(s)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data := buf.Bytes()

	if _, err := Decode(bytes.NewReader(data[:len(data)-1]), s); !errors.Is(err, model.ErrMalformedInput) {
		t.Errorf("short stream: expected ErrMalformedInput, got %v", err)
	}
	if _, err := Decode(bytes.NewReader(append(append([]byte(nil), data...), 0)), s); !errors.Is(err, model.ErrMalformedInput) {
		t.Errorf("trailing byte: expected ErrMalformedInput, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "short.nn")
	if err := os.WriteFile(path, data[:10], 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeFile(path, s); !errors.Is(err, model.ErrMalformedInput) {
		t.Errorf("DecodeFile short: expected ErrMalformedInput, got %v", err)
	}
}
