package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestRollingWriterRotatesAndCapsBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "camnode.log")

	w, err := newRollingWriter(path, 1, 2)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer w.Close()
	w.maxBytes = 100 // shrink the limit so the test stays small

	line := bytes.Repeat([]byte("x"), 40)
	for i := 0; i < 10; i++ {
		if _, err := w.Write(line); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	for _, p := range []string{path, path + ".1", path + ".2"} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("expected %s to exist: %v", p, err)
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Fatalf("backup count not capped, %s.3 exists", path)
	}

	stat, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if stat.Size() > 100 {
		t.Fatalf("active file exceeds limit: %d bytes", stat.Size())
	}
}

func TestLoggerLevelParsing(t *testing.T) {
	logger, closer, err := New(Config{Level: "debug", Console: true}, "camnode")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if closer != nil {
		t.Fatalf("no file configured, expected nil closer")
	}
	if logger.GetLevel().String() != "debug" {
		t.Fatalf("unexpected level %s", logger.GetLevel())
	}
}

func TestLoggerWritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "camnode.log")

	logger, closer, err := New(Config{Level: "info", File: path}, "camnode")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Info().Str("device", "20054321").Msg("camera opened")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Contains(data, []byte("camera opened")) {
		t.Fatalf("log line missing from file: %q", data)
	}
}
