package camera

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"camnode-go/internal/nodemap"
)

// SimConfig configures the simulated camera provider.
type SimConfig struct {
	Serial        string
	Model         string
	Width         int
	Height        int
	FrameRate     float64
	ClockDriftPPM float64 // device clock drift relative to host time
	SceneLevel    float64 // mean scene response at 10ms exposure, 0dB gain
	Seed          int64
}

func (c *SimConfig) defaults() {
	if c.Serial == "" {
		c.Serial = "20054321"
	}
	if c.Model == "" {
		c.Model = "SIM-MV1"
	}
	if c.Width <= 0 {
		c.Width = 320
	}
	if c.Height <= 0 {
		c.Height = 240
	}
	if c.FrameRate <= 0 {
		c.FrameRate = 20
	}
	if c.SceneLevel <= 0 {
		c.SceneLevel = 128
	}
}

// SimProvider exposes a single simulated camera.
type SimProvider struct {
	cfg SimConfig
}

func NewSimProvider(cfg SimConfig) *SimProvider {
	cfg.defaults()
	return &SimProvider{cfg: cfg}
}

func (p *SimProvider) Transport() string { return "sim" }

func (p *SimProvider) List(context.Context) ([]DeviceInfo, error) {
	return []DeviceInfo{p.info()}, nil
}

func (p *SimProvider) info() DeviceInfo {
	return DeviceInfo{
		Serial:    p.cfg.Serial,
		Model:     p.cfg.Model,
		Vendor:    "Simulated",
		Transport: "sim",
	}
}

func (p *SimProvider) Open(_ context.Context, serial string) (Device, error) {
	if serial != p.cfg.Serial {
		return nil, fmt.Errorf("sim: no device with serial %q", serial)
	}
	return newSimDevice(p.cfg), nil
}

// simDevice generates Mono8 test-pattern frames whose brightness responds
// to the ExposureTime and Gain nodes, with shot noise on top, and stamps
// them with a device tick clock that drifts against host time.
type simDevice struct {
	cfg SimConfig
	nm  *nodemap.Nodemap
	rng *rand.Rand

	mu          sync.Mutex
	initialized bool
	acquiring   bool
	stop        context.CancelFunc
	frameID     uint64
	epoch       time.Time
	pattern     []float64
}

func newSimDevice(cfg SimConfig) *simDevice {
	d := &simDevice{
		cfg:   cfg,
		nm:    nodemap.New(),
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		epoch: time.Now(),
	}
	d.buildNodemap()
	d.buildPattern()
	return d
}

func (d *simDevice) buildNodemap() {
	nm := d.nm
	nm.AddString("DeviceVendorName", "Simulated", false)
	nm.AddString("DeviceModelName", d.cfg.Model, false)
	nm.AddString("DeviceSerialNumber", d.cfg.Serial, false)
	nm.AddInteger("Width", int64(d.cfg.Width), 16, int64(d.cfg.Width), false)
	nm.AddInteger("Height", int64(d.cfg.Height), 16, int64(d.cfg.Height), false)
	nm.AddEnumeration("PixelFormat", "Mono8", []string{"Mono8"}, false)
	nm.AddEnumeration("AcquisitionMode", "Continuous", []string{"Continuous", "SingleFrame"}, true)
	nm.AddFloat("AcquisitionFrameRate", d.cfg.FrameRate, 1, 200, true)
	nm.AddEnumeration("ExposureAuto", "Off", []string{"Off", "Once", "Continuous"}, true)
	nm.AddFloat("ExposureTime", 10000, 20, 30000000, true)
	nm.AddEnumeration("GainAuto", "Off", []string{"Off", "Once", "Continuous"}, true)
	nm.AddFloat("Gain", 0, 0, 47, true)
	nm.AddEnumeration("TriggerMode", "Off", []string{"Off", "On"}, true)
}

func (d *simDevice) buildPattern() {
	w, h := d.cfg.Width, d.cfg.Height
	d.pattern = make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// Diagonal gradient in [0.3, 1.0], so the frame has structure
			// without changing its mean under resampling.
			g := float64(x+y) / float64(w+h-2)
			d.pattern[y*w+x] = 0.3 + 0.7*g
		}
	}
}

func (d *simDevice) Info() DeviceInfo {
	return DeviceInfo{Serial: d.cfg.Serial, Model: d.cfg.Model, Vendor: "Simulated", Transport: "sim"}
}

func (d *simDevice) Nodemap() *nodemap.Nodemap { return d.nm }

func (d *simDevice) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return fmt.Errorf("sim: device already initialized")
	}
	d.initialized = true
	return nil
}

func (d *simDevice) Deinit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.acquiring {
		return fmt.Errorf("sim: stop acquisition before deinit")
	}
	d.initialized = false
	return nil
}

func (d *simDevice) StartAcquisition(ctx context.Context) (<-chan Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return nil, fmt.Errorf("sim: device not initialized")
	}
	if d.acquiring {
		return nil, fmt.Errorf("sim: acquisition already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.acquiring = true
	d.stop = cancel

	out := make(chan Frame, 8)
	go d.generate(runCtx, out)
	return out, nil
}

func (d *simDevice) StopAcquisition() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.acquiring {
		return nil
	}
	d.stop()
	d.acquiring = false
	return nil
}

func (d *simDevice) generate(ctx context.Context, out chan<- Frame) {
	defer close(out)

	for {
		rate, err := d.nm.Float("AcquisitionFrameRate")
		if err != nil || rate <= 0 {
			rate = d.cfg.FrameRate
		}
		timer := time.NewTimer(time.Duration(float64(time.Second) / rate))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if trigger, err := d.nm.Enumeration("TriggerMode"); err == nil && trigger != "Off" {
			continue
		}

		frame := d.renderFrame()
		select {
		case out <- frame:
		default:
			// Consumer stalled: drop, as a transport layer would.
		}

		if mode, err := d.nm.Enumeration("AcquisitionMode"); err == nil && mode == "SingleFrame" {
			return
		}
	}
}

func (d *simDevice) renderFrame() Frame {
	exposure, _ := d.nm.Float("ExposureTime")
	gain, _ := d.nm.Float("Gain")

	// Linear exposure response scaled by gain in dB, referenced to 10ms/0dB.
	response := d.cfg.SceneLevel * (exposure / 10000) * math.Pow(10, gain/20)

	w, h := d.cfg.Width, d.cfg.Height
	data := make([]byte, w*h)
	for i, p := range d.pattern {
		v := p * response
		if v > 0 {
			v += d.rng.NormFloat64() * math.Sqrt(v) * 0.5
		}
		if v < 0 {
			v = 0
		} else if v > 255 {
			v = 255
		}
		data[i] = byte(v)
	}

	now := time.Now()
	d.mu.Lock()
	d.frameID++
	id := d.frameID
	elapsed := now.Sub(d.epoch)
	d.mu.Unlock()

	ticks := uint64(float64(elapsed.Nanoseconds()) * (1 + d.cfg.ClockDriftPPM/1e6))

	return Frame{
		Data:        data,
		Width:       w,
		Height:      h,
		PixelFormat: "Mono8",
		FrameID:     id,
		CameraTime:  ticks,
		HostTime:    now,
	}
}
