package record

import (
	"io"
	"os"
	"testing"
	"time"
)

func TestRawlogRoundTrip(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir, "camnode")
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := w.Record("meta", []byte{1, 2, 3}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := w.Record("control", []byte{4, 5}); err != nil {
		t.Fatalf("record: %v", err)
	}
	path := w.Path()
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := w.Record("meta", []byte{9}); err == nil {
		t.Fatalf("expected record after close to fail")
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	first, err := r.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if first.Topic != "meta" || len(first.Payload) != 3 || first.Payload[2] != 3 {
		t.Fatalf("unexpected first record: %+v", first)
	}
	if first.Timestamp.IsZero() || time.Since(first.Timestamp) > time.Minute {
		t.Fatalf("implausible timestamp %v", first.Timestamp)
	}

	second, err := r.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if second.Topic != "control" || len(second.Payload) != 2 {
		t.Fatalf("unexpected second record: %+v", second)
	}

	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestRawlogTruncatedTail(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir, "camnode")
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := w.Record("meta", []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("record: %v", err)
	}
	path := w.Path()
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Chop the last two payload bytes, as a crashed writer would.
	stat, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if err := os.Truncate(path, stat.Size()-2); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected clean EOF on truncated record, got %v", err)
	}
}

func TestRawlogRejectsWrongMagic(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/bogus.bin"
	if err := os.WriteFile(path, []byte("NOTMAGIC+junk"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatalf("expected magic error")
	}
}

func TestSessionSidecar(t *testing.T) {
	dir := t.TempDir()
	rawlog := dir + "/20240101_000000_camnode.bin"

	s := Session{
		Node:       "cam0",
		Serial:     "20054321",
		Model:      "SIM-MV1",
		FrameID:    "camera_link",
		StartedAt:  time.Now().Truncate(time.Second),
		Parameters: map[string]string{"ExposureAuto": "Off"},
		Topics:     []string{"image", "meta"},
	}
	if err := WriteSession(rawlog, s); err != nil {
		t.Fatalf("write session: %v", err)
	}

	back, err := ReadSession(SidecarPath(rawlog))
	if err != nil {
		t.Fatalf("read session: %v", err)
	}
	if back.Node != "cam0" || back.Serial != "20054321" {
		t.Fatalf("unexpected session: %+v", back)
	}
	if back.Parameters["ExposureAuto"] != "Off" {
		t.Fatalf("parameters lost: %+v", back.Parameters)
	}
}
