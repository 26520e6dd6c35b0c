// Package camera abstracts the acquisition hardware behind a Device
// interface and a provider registry, so the driver pipeline is independent
// of the transport a camera sits on.
package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"camnode-go/internal/nodemap"
)

// DeviceInfo identifies an enumerable camera.
type DeviceInfo struct {
	Serial    string `json:"serial"`
	Model     string `json:"model"`
	Vendor    string `json:"vendor"`
	Transport string `json:"transport"`
}

// Frame is one acquired image buffer.
type Frame struct {
	Data        []byte
	Width       int
	Height      int
	PixelFormat string
	FrameID     uint64
	CameraTime  uint64 // device tick clock, not host time
	HostTime    time.Time
}

// Device is an opened camera. The lifecycle mirrors what vision SDKs
// enforce: Init before anything else, StopAcquisition before Deinit.
type Device interface {
	Info() DeviceInfo
	Nodemap() *nodemap.Nodemap
	Init() error
	Deinit() error
	StartAcquisition(ctx context.Context) (<-chan Frame, error)
	StopAcquisition() error
}

// Provider enumerates and opens devices on one transport.
type Provider interface {
	Transport() string
	List(ctx context.Context) ([]DeviceInfo, error)
	Open(ctx context.Context, serial string) (Device, error)
}

// EventKind classifies device events delivered to registered handlers.
type EventKind string

const (
	EventArrival EventKind = "arrival"
	EventRemoval EventKind = "removal"
	EventError   EventKind = "error"
)

type Event struct {
	Kind   EventKind
	Device DeviceInfo
	Err    error
}

type EventHandler func(Event)

// Registry holds providers and device event handlers.
type Registry struct {
	mu        sync.Mutex
	providers []Provider
	handlers  []EventHandler
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
}

// OnEvent registers a handler for device arrival/removal/error events.
func (r *Registry) OnEvent(h EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
}

// Notify fans an event out to all registered handlers.
func (r *Registry) Notify(ev Event) {
	r.mu.Lock()
	handlers := append([]EventHandler(nil), r.handlers...)
	r.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// Enumerate lists devices across all providers. Provider failures are
// reported as error events and skipped.
func (r *Registry) Enumerate(ctx context.Context) []DeviceInfo {
	r.mu.Lock()
	providers := append([]Provider(nil), r.providers...)
	r.mu.Unlock()

	var out []DeviceInfo
	for _, p := range providers {
		infos, err := p.List(ctx)
		if err != nil {
			r.Notify(Event{Kind: EventError, Err: fmt.Errorf("enumerate %s: %w", p.Transport(), err)})
			continue
		}
		out = append(out, infos...)
	}
	return out
}

// Open finds a device by serial across providers. An empty serial opens
// the first device found.
func (r *Registry) Open(ctx context.Context, serial string) (Device, error) {
	r.mu.Lock()
	providers := append([]Provider(nil), r.providers...)
	r.mu.Unlock()

	for _, p := range providers {
		infos, err := p.List(ctx)
		if err != nil {
			continue
		}
		for _, info := range infos {
			if serial == "" || info.Serial == serial {
				dev, err := p.Open(ctx, info.Serial)
				if err != nil {
					return nil, err
				}
				r.Notify(Event{Kind: EventArrival, Device: info})
				return dev, nil
			}
		}
	}
	if serial == "" {
		return nil, fmt.Errorf("camera: no devices found")
	}
	return nil, fmt.Errorf("camera: device with serial %q not found", serial)
}
