// Package record persists the node's published messages for offline
// replay and debugging. The format is a magic string followed by
// length-prefixed records carrying the host timestamp, topic, and payload.
package record

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const Magic = "CAMNRAW1"

// Writer appends records to a timestamped .bin file. Safe for concurrent
// use by the publish workers.
type Writer struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string
}

func NewWriter(dir, prefix string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	timestamp := time.Now().Format("20060102_150405")
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.bin", timestamp, prefix))
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriterSize(f, 1024*1024)
	if _, err := w.WriteString(Magic); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: w, path: path}, nil
}

// Path returns the file the writer is recording to.
func (w *Writer) Path() string { return w.path }

// Record appends one message. The record layout is:
// int64 host-ns, u8 topic length, topic bytes, u32 payload length, payload.
func (w *Writer) Record(topic string, payload []byte) error {
	if len(topic) > 255 {
		return fmt.Errorf("record: topic %q too long", topic)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return fmt.Errorf("record: writer is closed")
	}

	var header [9]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(time.Now().UnixNano()))
	header[8] = byte(len(topic))
	if _, err := w.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.w.WriteString(topic); err != nil {
		return err
	}
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(payload)))
	if _, err := w.w.Write(size[:]); err != nil {
		return err
	}
	_, err := w.w.Write(payload)
	return err
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		_ = w.f.Close()
		w.w = nil
		return err
	}
	err := w.f.Close()
	w.w = nil
	return err
}

// Record is one replayed entry.
type Record struct {
	Timestamp time.Time
	Topic     string
	Payload   []byte
}

// Reader iterates a recording. A short final record (truncated write on
// crash) terminates iteration with io.EOF rather than an error.
type Reader struct {
	r *bufio.Reader
	c io.Closer
}

func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := bufio.NewReader(f)
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("record: read magic: %w", err)
	}
	if string(magic) != Magic {
		_ = f.Close()
		return nil, fmt.Errorf("record: unexpected magic %q", string(magic))
	}
	return &Reader{r: r, c: f}, nil
}

// Next returns the next record, or io.EOF when the recording ends.
func (r *Reader) Next() (Record, error) {
	var header [9]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return Record{}, err
	}
	ts := int64(binary.LittleEndian.Uint64(header[:8]))
	topicLen := int(header[8])

	topic := make([]byte, topicLen)
	if _, err := io.ReadFull(r.r, topic); err != nil {
		return Record{}, io.EOF
	}
	var size [4]byte
	if _, err := io.ReadFull(r.r, size[:]); err != nil {
		return Record{}, io.EOF
	}
	payload := make([]byte, binary.LittleEndian.Uint32(size[:]))
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return Record{}, io.EOF
	}

	return Record{
		Timestamp: time.Unix(0, ts),
		Topic:     string(topic),
		Payload:   payload,
	}, nil
}

func (r *Reader) Close() error {
	return r.c.Close()
}
