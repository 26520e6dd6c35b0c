// Package driver runs the acquisition pipeline: open a camera, apply the
// configured nodemap parameters, then per frame compute brightness, stamp
// it against the estimated device clock, publish image and metadata, and
// feed the exposure controller.
package driver

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"camnode-go/internal/camera"
	"camnode-go/internal/config"
	"camnode-go/internal/exposure"
	"camnode-go/internal/metrics"
	"camnode-go/internal/msg"
	"camnode-go/internal/record"
	"camnode-go/internal/timesync"
	"camnode-go/internal/transport"
)

// Publisher is the transport surface the node needs; *transport.Publisher
// satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

type Options struct {
	NodeName   string
	FrameID    string
	Serial     string
	Workers    int
	QueueSize  int
	Parameters []config.Parameter

	Controller     exposure.Controller // nil disables exposure control
	ControllerName string

	Registry  *camera.Registry
	Publisher Publisher
	Controls  <-chan []byte // control-topic payloads, nil unless following

	Estimator    *timesync.Estimator
	Keeper       *timesync.Keeper
	Recorder     *record.Writer // nil disables recording
	RecordImages bool
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger

	ReconnectBackoff time.Duration
}

type Node struct {
	opts Options
	log  zerolog.Logger

	framesAcquired  atomic.Uint64
	framesPublished atomic.Uint64
	framesDropped   atomic.Uint64

	mu         sync.Mutex
	streamOK   bool
	device     camera.DeviceInfo
	lastFrame  time.Time
	latestMeta msg.ImageMetaData
	hasMeta    bool
}

type publishItem struct {
	frame camera.Frame
	meta  msg.ImageMetaData
}

func New(opts Options) *Node {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = 2 * time.Second
	}
	if opts.Keeper == nil {
		opts.Keeper = timesync.NewKeeper()
	}
	if opts.Estimator == nil {
		opts.Estimator = timesync.NewEstimator(timesync.EstimatorConfig{})
	}
	return &Node{opts: opts, log: opts.Logger}
}

// Run drives the node until the context is cancelled, reopening the
// device with backoff whenever the acquisition stream ends.
func (n *Node) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		dev, err := n.opts.Registry.Open(ctx, n.opts.Serial)
		if err != nil {
			n.log.Error().Err(err).Msg("device open failed")
			n.setStream(false)
			if !sleepCtx(ctx, n.opts.ReconnectBackoff) {
				return nil
			}
			continue
		}

		err = n.runDevice(ctx, dev)
		n.setStream(false)
		if ctx.Err() != nil {
			return nil
		}
		n.log.Warn().Err(err).Msg("acquisition ended, reconnecting")
		n.opts.Metrics.Reconnect()
		if !sleepCtx(ctx, n.opts.ReconnectBackoff) {
			return nil
		}
	}
}

func (n *Node) runDevice(ctx context.Context, dev camera.Device) error {
	info := dev.Info()
	n.mu.Lock()
	n.device = info
	n.mu.Unlock()
	n.log.Info().Str("serial", info.Serial).Str("model", info.Model).
		Str("transport", info.Transport).Msg("device opened")

	if err := dev.Init(); err != nil {
		return err
	}
	defer func() {
		_ = dev.StopAcquisition()
		if err := dev.Deinit(); err != nil {
			n.log.Warn().Err(err).Msg("deinit failed")
		}
	}()

	nm := dev.Nodemap()
	ApplyParameters(nm, n.opts.Parameters, n.log)

	frames, err := dev.StartAcquisition(ctx)
	if err != nil {
		return err
	}
	n.setStream(true)

	queue := make(chan publishItem, n.opts.QueueSize)
	var wg sync.WaitGroup
	wg.Add(n.opts.Workers)
	for i := 0; i < n.opts.Workers; i++ {
		go func() {
			defer wg.Done()
			n.publishWorker(queue)
		}()
	}
	defer func() {
		close(queue)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-n.opts.Controls:
			if !ok {
				n.opts.Controls = nil
				continue
			}
			n.handleControl(dev, payload)
		case frame, ok := <-frames:
			if !ok {
				return errStreamEnded
			}
			n.handleFrame(dev, frame, queue)
		}
	}
}

var errStreamEnded = streamEndedError{}

type streamEndedError struct{}

func (streamEndedError) Error() string { return "acquisition stream ended" }

func (n *Node) handleFrame(dev camera.Device, frame camera.Frame, queue chan<- publishItem) {
	n.framesAcquired.Add(1)
	n.opts.Metrics.FrameAcquired()

	n.opts.Estimator.Observe(frame.CameraTime, frame.HostTime)
	stamp := n.opts.Keeper.Stamp(n.opts.Estimator.HostTime(frame.CameraTime, frame.HostTime))

	brightness := Brightness(frame)
	exposureUS, gain := n.currentExposure(dev)

	meta := msg.ImageMetaData{
		Header:          msg.Header{Stamp: stamp, FrameID: n.opts.FrameID},
		CameraTime:      frame.CameraTime,
		Brightness:      brightness,
		ExposureTime:    exposureUS,
		MaxExposureTime: n.maxExposure(dev),
		Gain:            gain,
	}

	n.mu.Lock()
	n.lastFrame = time.Now()
	n.latestMeta = meta
	n.hasMeta = true
	n.mu.Unlock()
	n.opts.Metrics.ObserveFrame(int(brightness), exposureUS, float64(gain))

	if n.opts.Controller != nil {
		if settings, ok := n.opts.Controller.Update(meta); ok {
			n.applySettings(dev, settings, true)
		}
	}

	select {
	case queue <- publishItem{frame: frame, meta: meta}:
	default:
		n.framesDropped.Add(1)
		n.opts.Metrics.FrameDropped()
	}
}

func (n *Node) publishWorker(queue <-chan publishItem) {
	for item := range queue {
		start := time.Now()

		image := msg.Image{
			Header:   item.meta.Header,
			Height:   uint32(item.frame.Height),
			Width:    uint32(item.frame.Width),
			Encoding: "mono8",
			Step:     uint32(item.frame.Width),
			Data:     item.frame.Data,
		}
		imagePayload := image.Marshal()
		metaPayload := item.meta.Marshal()

		if err := n.opts.Publisher.Publish(transport.TopicImage, imagePayload); err != nil {
			n.opts.Metrics.PublishError()
			n.log.Debug().Err(err).Msg("image publish failed")
		}
		if err := n.opts.Publisher.Publish(transport.TopicMeta, metaPayload); err != nil {
			n.opts.Metrics.PublishError()
			n.log.Debug().Err(err).Msg("meta publish failed")
		}
		n.record(transport.TopicMeta, metaPayload)
		if n.opts.RecordImages {
			n.record(transport.TopicImage, imagePayload)
		}

		n.framesPublished.Add(1)
		n.opts.Metrics.FramePublished(time.Since(start))
	}
}

// handleControl decodes a control-topic payload and routes it through the
// controller (follower) before touching the nodemap.
func (n *Node) handleControl(dev camera.Device, payload []byte) {
	var ctl msg.CameraControl
	if err := ctl.Unmarshal(payload); err != nil {
		n.log.Warn().Err(err).Msg("bad control payload")
		return
	}
	if n.opts.Controller == nil {
		return
	}
	if settings, ok := n.opts.Controller.Control(ctl); ok {
		n.applySettings(dev, settings, false)
	}
}

// applySettings writes new exposure settings to the camera, clamping to
// the node limits, and republishes them on the control topic when this
// node originated them.
func (n *Node) applySettings(dev camera.Device, s exposure.Settings, originated bool) {
	nm := dev.Nodemap()

	exposureVal := float64(s.ExposureTime)
	if s.ExposureTime == 0 {
		// Zero means "leave exposure unchanged" on the wire.
		exposureVal, _ = nm.Float("ExposureTime")
	} else {
		if min, max, err := nm.FloatLimits("ExposureTime"); err == nil {
			clamped := clamp(exposureVal, min, max)
			if clamped != exposureVal {
				n.log.Debug().Float64("requested", exposureVal).Float64("applied", clamped).
					Msg("exposure clamped to node limits")
				exposureVal = clamped
			}
		}
		if err := nm.SetFloat("ExposureTime", exposureVal); err != nil {
			n.log.Warn().Err(err).Msg("exposure write failed")
		}
	}

	gainVal := float64(s.Gain)
	if min, max, err := nm.FloatLimits("Gain"); err == nil {
		gainVal = clamp(gainVal, min, max)
	}
	if err := nm.SetFloat("Gain", gainVal); err != nil {
		n.log.Warn().Err(err).Msg("gain write failed")
	}

	n.opts.Metrics.ControlApplied(uint32(math.Round(exposureVal)), gainVal)
	n.log.Debug().Float64("exposure_us", exposureVal).Float64("gain_db", gainVal).
		Bool("originated", originated).Msg("settings applied")

	if originated {
		ctl := msg.CameraControl{
			Header:       msg.Header{Stamp: msg.FromTime(time.Now()), FrameID: n.opts.FrameID},
			ExposureTime: uint32(math.Round(exposureVal)),
			Gain:         float32(gainVal),
		}
		payload := ctl.Marshal()
		if err := n.opts.Publisher.Publish(transport.TopicControl, payload); err != nil {
			n.opts.Metrics.PublishError()
			n.log.Debug().Err(err).Msg("control publish failed")
		}
		n.record(transport.TopicControl, payload)
	}
}

func (n *Node) record(topic string, payload []byte) {
	if n.opts.Recorder == nil {
		return
	}
	if err := n.opts.Recorder.Record(topic, payload); err != nil {
		n.log.Warn().Err(err).Msg("recording failed")
	}
}

func (n *Node) currentExposure(dev camera.Device) (uint32, float32) {
	nm := dev.Nodemap()
	exposureVal, err := nm.Float("ExposureTime")
	if err != nil {
		return 0, 0
	}
	gainVal, err := nm.Float("Gain")
	if err != nil {
		return uint32(math.Round(exposureVal)), 0
	}
	return uint32(math.Round(exposureVal)), float32(gainVal)
}

// maxExposure derives the per-frame exposure cap from the configured
// frame rate, leaving headroom for sensor readout.
func (n *Node) maxExposure(dev camera.Device) uint32 {
	rate, err := dev.Nodemap().Float("AcquisitionFrameRate")
	if err != nil || rate <= 0 {
		return 0
	}
	return uint32(1e6 / rate * 0.95)
}

func (n *Node) setStream(ok bool) {
	n.mu.Lock()
	n.streamOK = ok
	n.mu.Unlock()
}

// Status is the monitor server's snapshot source.
func (n *Node) Status() map[string]any {
	n.mu.Lock()
	defer n.mu.Unlock()

	stream := "idle"
	if n.streamOK {
		stream = "receiving"
	}
	lastFrame := ""
	if !n.lastFrame.IsZero() {
		lastFrame = n.lastFrame.Format(time.RFC3339)
	}
	return map[string]any{
		"node":             n.opts.NodeName,
		"controller":       n.opts.ControllerName,
		"device":           n.device,
		"stream":           stream,
		"last_frame":       lastFrame,
		"frames_acquired":  n.framesAcquired.Load(),
		"frames_published": n.framesPublished.Load(),
		"frames_dropped":   n.framesDropped.Load(),
	}
}

// LatestMeta returns the most recent frame metadata, if any.
func (n *Node) LatestMeta() (msg.ImageMetaData, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.latestMeta, n.hasMeta
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
