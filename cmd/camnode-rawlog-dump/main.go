// camnode-rawlog-dump decodes a rawlog recording and its session sidecar
// into JSON for inspection.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"camnode-go/internal/msg"
	"camnode-go/internal/record"
	"camnode-go/internal/transport"
)

func main() {
	var (
		path  = flag.String("path", "", "Path to a rawlog .bin file")
		limit = flag.Int("limit", 10, "Records to dump (0 = all)")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("path is required")
	}

	dumpSession(record.SidecarPath(*path))

	r, err := record.Open(*path)
	if err != nil {
		log.Fatalf("open rawlog: %v", err)
	}
	defer r.Close()

	count := 0
	for {
		if *limit > 0 && count >= *limit {
			return
		}
		rec, err := r.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			log.Fatalf("read record: %v", err)
		}

		decoded, err := decodePayload(rec.Topic, rec.Payload)
		if err != nil {
			log.Printf("record %d (%s): %v", count, rec.Topic, err)
			count++
			continue
		}

		pretty, err := json.MarshalIndent(decoded, "", "  ")
		if err != nil {
			log.Fatalf("encode record: %v", err)
		}
		log.Printf("record %d topic=%s timestamp=%s size=%d",
			count, rec.Topic, rec.Timestamp.Format(time.RFC3339Nano), len(rec.Payload))
		fmt.Println(string(pretty))
		count++
	}
}

func decodePayload(topic string, payload []byte) (any, error) {
	switch topic {
	case transport.TopicMeta:
		var meta msg.ImageMetaData
		if err := meta.Unmarshal(payload); err != nil {
			return nil, err
		}
		return meta, nil
	case transport.TopicControl:
		var ctl msg.CameraControl
		if err := ctl.Unmarshal(payload); err != nil {
			return nil, err
		}
		return ctl, nil
	case transport.TopicImage:
		var img msg.Image
		if err := img.Unmarshal(payload); err != nil {
			return nil, err
		}
		return map[string]any{
			"header":   img.Header,
			"width":    img.Width,
			"height":   img.Height,
			"encoding": img.Encoding,
			"bytes":    len(img.Data),
		}, nil
	default:
		return nil, fmt.Errorf("unknown topic %q", topic)
	}
}

func dumpSession(path string) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("session sidecar: %v", err)
		}
		return
	}
	var decoded any
	if err := cbor.Unmarshal(payload, &decoded); err != nil {
		log.Printf("session sidecar decode: %v", err)
		return
	}
	pretty, err := json.MarshalIndent(normalize(decoded), "", "  ")
	if err != nil {
		log.Printf("session sidecar encode: %v", err)
		return
	}
	log.Printf("session %s", path)
	fmt.Println(string(pretty))
}

// normalize rewrites CBOR-decoded values into JSON-encodable ones.
func normalize(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case []byte:
		return fmt.Sprintf("%x", t)
	default:
		return v
	}
}
