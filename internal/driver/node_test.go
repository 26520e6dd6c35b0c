package driver

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"camnode-go/internal/camera"
	"camnode-go/internal/config"
	"camnode-go/internal/exposure"
	"camnode-go/internal/msg"
	"camnode-go/internal/record"
	"camnode-go/internal/transport"
)

type capturingPublisher struct {
	mu      sync.Mutex
	byTopic map[string][][]byte
}

func newCapturingPublisher() *capturingPublisher {
	return &capturingPublisher{byTopic: make(map[string][][]byte)}
}

func (p *capturingPublisher) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := make([]byte, len(payload))
	copy(buf, payload)
	p.byTopic[topic] = append(p.byTopic[topic], buf)
	return nil
}

func (p *capturingPublisher) last(topic string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := p.byTopic[topic]
	if len(msgs) == 0 {
		return nil, false
	}
	return msgs[len(msgs)-1], true
}

func simRegistry(rate float64) *camera.Registry {
	reg := camera.NewRegistry()
	reg.Register(camera.NewSimProvider(camera.SimConfig{
		Serial:    "T100",
		Width:     64,
		Height:    48,
		FrameRate: rate,
		Seed:      7,
	}))
	return reg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestBrightness(t *testing.T) {
	frame := camera.Frame{
		Data:        []byte{10, 20, 30, 40},
		Width:       2,
		Height:      2,
		PixelFormat: "Mono8",
	}
	if b := Brightness(frame); b != 25 {
		t.Fatalf("unexpected brightness %d", b)
	}

	frame.PixelFormat = "BayerRG8"
	if b := Brightness(frame); b != msg.BrightnessInvalid {
		t.Fatalf("expected invalid for unsupported format, got %d", b)
	}

	frame.PixelFormat = "Mono8"
	frame.Data = frame.Data[:3] // geometry mismatch
	if b := Brightness(frame); b != msg.BrightnessInvalid {
		t.Fatalf("expected invalid for short buffer, got %d", b)
	}
}

func TestApplyParametersSkipsBadOnes(t *testing.T) {
	reg := simRegistry(20)
	dev, err := reg.Open(context.Background(), "T100")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	ApplyParameters(dev.Nodemap(), []config.Parameter{
		{Name: "ExposureAuto", Value: "Off"},
		{Name: "ExposureTime", Value: "2500"},
		{Name: "NoSuchNode", Value: "1"},
		{Name: "ExposureTime", Value: "not-a-number"},
		{Name: "AcquisitionFrameRate", Value: "40"},
	}, zerolog.Nop())

	if v, _ := dev.Nodemap().Float("ExposureTime"); v != 2500 {
		t.Fatalf("exposure not applied: %g", v)
	}
	if v, _ := dev.Nodemap().Float("AcquisitionFrameRate"); v != 40 {
		t.Fatalf("frame rate not applied after bad parameters: %g", v)
	}
}

func TestNodePublishesImageAndMeta(t *testing.T) {
	pub := newCapturingPublisher()
	node := New(Options{
		NodeName:  "test",
		FrameID:   "camera_link",
		Serial:    "T100",
		Workers:   1,
		QueueSize: 8,
		Registry:  simRegistry(100),
		Publisher: pub,
		Logger:    zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- node.Run(ctx) }()

	waitFor(t, 5*time.Second, func() bool {
		_, ok := pub.last(transport.TopicMeta)
		return ok
	})

	payload, _ := pub.last(transport.TopicMeta)
	var meta msg.ImageMetaData
	if err := meta.Unmarshal(payload); err != nil {
		t.Fatalf("meta decode: %v", err)
	}
	if meta.Header.FrameID != "camera_link" {
		t.Fatalf("unexpected frame_id %q", meta.Header.FrameID)
	}
	if meta.Brightness < 0 || meta.Brightness > 255 {
		t.Fatalf("implausible brightness %d", meta.Brightness)
	}
	if meta.ExposureTime == 0 || meta.MaxExposureTime == 0 {
		t.Fatalf("exposure fields not filled: %+v", meta)
	}

	imgPayload, ok := pub.last(transport.TopicImage)
	if !ok {
		t.Fatalf("no image published")
	}
	var img msg.Image
	if err := img.Unmarshal(imgPayload); err != nil {
		t.Fatalf("image decode: %v", err)
	}
	if img.Width != 64 || img.Height != 48 || img.Encoding != "mono8" {
		t.Fatalf("unexpected image: %dx%d %s", img.Width, img.Height, img.Encoding)
	}
	if len(img.Data) != 64*48 {
		t.Fatalf("unexpected image buffer %d", len(img.Data))
	}

	status := node.Status()
	if status["stream"] != "receiving" {
		t.Fatalf("unexpected stream status %v", status["stream"])
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("node did not stop")
	}
}

func TestNodeFollowsControlTopic(t *testing.T) {
	pub := newCapturingPublisher()
	controls := make(chan []byte, 4)
	node := New(Options{
		NodeName:       "follower",
		FrameID:        "camera_link",
		Serial:         "T100",
		Workers:        1,
		QueueSize:      8,
		Registry:       simRegistry(100),
		Publisher:      pub,
		Controls:       controls,
		Controller:     exposure.NewFollower(),
		ControllerName: "follower",
		Logger:         zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- node.Run(ctx) }()

	ctl := msg.CameraControl{
		Header:       msg.Header{FrameID: "master_link"},
		ExposureTime: 3000,
		Gain:         4,
	}
	controls <- ctl.Marshal()

	waitFor(t, 5*time.Second, func() bool {
		meta, ok := node.LatestMeta()
		return ok && meta.ExposureTime == 3000 && meta.Gain > 3.9 && meta.Gain < 4.1
	})

	cancel()
	<-done
}

func TestNodeGainOnlyControlKeepsExposure(t *testing.T) {
	pub := newCapturingPublisher()
	controls := make(chan []byte, 4)
	reg := simRegistry(100)
	node := New(Options{
		NodeName:       "follower",
		FrameID:        "camera_link",
		Serial:         "T100",
		Workers:        1,
		QueueSize:      8,
		Registry:       reg,
		Publisher:      pub,
		Controls:       controls,
		Controller:     exposure.NewFollower(),
		ControllerName: "follower",
		Logger:         zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- node.Run(ctx) }()

	// A gain-only command as the very first control must not touch the
	// camera's configured exposure.
	ctl := msg.CameraControl{ExposureTime: 0, Gain: 4}
	controls <- ctl.Marshal()

	waitFor(t, 5*time.Second, func() bool {
		meta, ok := node.LatestMeta()
		return ok && meta.Gain > 3.9 && meta.Gain < 4.1
	})

	meta, _ := node.LatestMeta()
	if meta.ExposureTime != 10000 {
		t.Fatalf("gain-only control changed exposure: %d", meta.ExposureTime)
	}

	cancel()
	<-done
}

func TestNodeRecordsPublishedTopics(t *testing.T) {
	rec, err := record.NewWriter(t.TempDir(), "test")
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	node := New(Options{
		NodeName:     "test",
		FrameID:      "camera_link",
		Serial:       "T100",
		Workers:      1,
		QueueSize:    8,
		Registry:     simRegistry(100),
		Publisher:    newCapturingPublisher(),
		Recorder:     rec,
		RecordImages: true,
		Logger:       zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- node.Run(ctx) }()

	waitFor(t, 5*time.Second, func() bool {
		_, ok := node.LatestMeta()
		return ok
	})
	time.Sleep(100 * time.Millisecond) // let the worker drain the queue
	cancel()
	<-done
	if err := rec.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	r, err := record.Open(rec.Path())
	if err != nil {
		t.Fatalf("open rawlog: %v", err)
	}
	defer r.Close()

	seen := map[string]int{}
	for {
		entry, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read record: %v", err)
		}
		seen[entry.Topic]++
	}
	if seen[transport.TopicMeta] == 0 {
		t.Fatalf("no meta records written: %v", seen)
	}
	if seen[transport.TopicImage] == 0 {
		t.Fatalf("no image records written: %v", seen)
	}
}

func TestNodeMasterConvergesOnTarget(t *testing.T) {
	pub := newCapturingPublisher()
	controller := exposure.NewMaster(exposure.Config{
		TargetBrightness: 100,
		Deadband:         5,
		InitialExposure:  10000,
	})
	node := New(Options{
		NodeName:       "master",
		FrameID:        "camera_link",
		Serial:         "T100",
		Workers:        1,
		QueueSize:      8,
		Registry:       simRegistry(100),
		Publisher:      pub,
		Controller:     controller,
		ControllerName: "master",
		Logger:         zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- node.Run(ctx) }()

	waitFor(t, 10*time.Second, func() bool {
		meta, ok := node.LatestMeta()
		return ok && meta.Brightness >= 85 && meta.Brightness <= 115
	})

	// The master must have broadcast its corrections for followers.
	if _, ok := pub.last(transport.TopicControl); !ok {
		t.Fatalf("master never published a control command")
	}

	cancel()
	<-done
}
