package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/23skdu/nnue-export/internal/config"
	"github.com/23skdu/nnue-export/internal/model"
)

func TestRunBadFlag(t *testing.T) {
	var stderr bytes.Buffer
	if code := run([]string{"-no-such-flag"}, &stderr); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
	if code := run([]string{"extra"}, &stderr); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
}

func TestRunMissingInput(t *testing.T) {
	dir := t.TempDir()
	var stderr bytes.Buffer
	code := run([]string{
		"-input", filepath.Join(dir, "missing.state"),
		"-output", filepath.Join(dir, "out.nn"),
		"-log-format", "json",
	}, &stderr)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "conversion failed") {
		t.Errorf("missing error log: %s", stderr.String())
	}
}

func TestRunTruncatedInput(t *testing.T) {
	if testing.Short() {
		t.Skip("reference-size checkpoint")
	}
	dir := t.TempDir()
	in := filepath.Join(dir, "500.state")
	out := filepath.Join(dir, "exported.nn")

	s := mustSchema(t, config.DefaultLayout())
	f, err := os.Create(in)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(s.InputBytes() - 1); err != nil {
		t.Fatal(err)
	}
	f.Close()

	var stderr bytes.Buffer
	if code := run([]string{"-input", in, "-output", out, "-log-format", "json"}, &stderr); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "malformed input") {
		t.Errorf("expected malformed input in log: %s", stderr.String())
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("output written for truncated input")
	}
}

func TestRunSuccess(t *testing.T) {
	if testing.Short() {
		t.Skip("reference-size checkpoint")
	}
	dir := t.TempDir()
	in := filepath.Join(dir, "500.state")
	out := filepath.Join(dir, "exported.nn")

	s := mustSchema(t, config.DefaultLayout())
	f, err := os.Create(in)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(s.InputBytes()); err != nil {
		t.Fatal(err)
	}
	f.Close()

	var stderr bytes.Buffer
	if code := run([]string{"-input", in, "-output", out, "-verify", "-check-overflow"}, &stderr); code != 0 {
		t.Fatalf("exit code = %d, want 0\n%s", code, stderr.String())
	}
	info, err := os.Stat(out)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != s.OutputBytes() {
		t.Errorf("output size = %d, want %d", info.Size(), s.OutputBytes())
	}
}

func mustSchema(t *testing.T, l config.Layout) *model.Schema {
	t.Helper()
	s, err := model.NewSchema(l)
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	return s
}
