package record

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Session describes one recording run. It is written as a CBOR sidecar
// next to the rawlog so a dump can be interpreted without the node's
// configuration at hand.
type Session struct {
	Node       string            `cbor:"node"`
	Serial     string            `cbor:"serial"`
	Model      string            `cbor:"model"`
	FrameID    string            `cbor:"frame_id"`
	StartedAt  time.Time         `cbor:"started_at"`
	Parameters map[string]string `cbor:"parameters"`
	Topics     []string          `cbor:"topics"`
}

// SidecarPath derives the session file path from a rawlog path.
func SidecarPath(rawlogPath string) string {
	base := strings.TrimSuffix(rawlogPath, filepath.Ext(rawlogPath))
	return base + "_session.cbor"
}

// WriteSession writes the sidecar for a rawlog.
func WriteSession(rawlogPath string, s Session) error {
	payload, err := cbor.Marshal(s)
	if err != nil {
		return fmt.Errorf("record: encode session: %w", err)
	}
	return os.WriteFile(SidecarPath(rawlogPath), payload, 0o644)
}

// ReadSession loads a session sidecar.
func ReadSession(path string) (Session, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := cbor.Unmarshal(payload, &s); err != nil {
		return Session{}, fmt.Errorf("record: decode session: %w", err)
	}
	return s, nil
}
