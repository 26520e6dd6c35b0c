package camera

import (
	"context"
	"testing"
	"time"
)

func openSim(t *testing.T, cfg SimConfig) Device {
	t.Helper()
	cfg.defaults()
	provider := NewSimProvider(cfg)
	dev, err := provider.Open(context.Background(), cfg.Serial)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return dev
}

func meanBrightness(f Frame) float64 {
	var sum float64
	for _, b := range f.Data {
		sum += float64(b)
	}
	return sum / float64(len(f.Data))
}

func TestSimLifecycle(t *testing.T) {
	dev := openSim(t, SimConfig{})

	if _, err := dev.StartAcquisition(context.Background()); err == nil {
		t.Fatalf("expected start before init to fail")
	}
	if err := dev.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := dev.Init(); err == nil {
		t.Fatalf("expected double init to fail")
	}

	frames, err := dev.StartAcquisition(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := dev.Deinit(); err == nil {
		t.Fatalf("expected deinit while acquiring to fail")
	}

	select {
	case f := <-frames:
		if f.Width != 320 || f.Height != 240 || f.PixelFormat != "Mono8" {
			t.Fatalf("unexpected frame shape: %dx%d %s", f.Width, f.Height, f.PixelFormat)
		}
		if len(f.Data) != 320*240 {
			t.Fatalf("unexpected buffer size %d", len(f.Data))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame within deadline")
	}

	if err := dev.StopAcquisition(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := dev.Deinit(); err != nil {
		t.Fatalf("deinit: %v", err)
	}
}

func TestSimBrightnessTracksExposure(t *testing.T) {
	dev := openSim(t, SimConfig{FrameRate: 100, Seed: 1})
	if err := dev.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer dev.Deinit()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	frames, err := dev.StartAcquisition(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer dev.StopAcquisition()

	grab := func() Frame {
		select {
		case f := <-frames:
			return f
		case <-time.After(2 * time.Second):
			t.Fatalf("no frame within deadline")
			return Frame{}
		}
	}
	// Drain queued frames plus one in flight so the next frame reflects the
	// current nodemap settings.
	settle := func() {
		for {
			select {
			case <-frames:
			default:
				grab()
				return
			}
		}
	}

	if err := dev.Nodemap().SetFloat("ExposureTime", 5000); err != nil {
		t.Fatalf("set exposure: %v", err)
	}
	settle()
	dim := meanBrightness(grab())

	if err := dev.Nodemap().SetFloat("ExposureTime", 20000); err != nil {
		t.Fatalf("set exposure: %v", err)
	}
	settle()
	bright := meanBrightness(grab())

	if bright <= dim*1.5 {
		t.Fatalf("brightness did not track exposure: dim=%.1f bright=%.1f", dim, bright)
	}
}

func TestSimCameraTimeAdvances(t *testing.T) {
	dev := openSim(t, SimConfig{FrameRate: 100, Seed: 2})
	if err := dev.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer dev.Deinit()

	frames, err := dev.StartAcquisition(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer dev.StopAcquisition()

	var prev uint64
	for i := 0; i < 3; i++ {
		select {
		case f := <-frames:
			if f.CameraTime <= prev {
				t.Fatalf("camera time not monotonic: %d then %d", prev, f.CameraTime)
			}
			prev = f.CameraTime
		case <-time.After(2 * time.Second):
			t.Fatalf("no frame within deadline")
		}
	}
}

func TestRegistryEnumerateAndEvents(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewSimProvider(SimConfig{Serial: "A1"}))
	reg.Register(NewSimProvider(SimConfig{Serial: "B2"}))

	var events []Event
	reg.OnEvent(func(ev Event) { events = append(events, ev) })

	infos := reg.Enumerate(context.Background())
	if len(infos) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(infos))
	}

	dev, err := reg.Open(context.Background(), "B2")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if dev.Info().Serial != "B2" {
		t.Fatalf("opened wrong device: %s", dev.Info().Serial)
	}
	if len(events) != 1 || events[0].Kind != EventArrival {
		t.Fatalf("expected one arrival event, got %+v", events)
	}

	if _, err := reg.Open(context.Background(), "missing"); err == nil {
		t.Fatalf("expected open of unknown serial to fail")
	}
}
