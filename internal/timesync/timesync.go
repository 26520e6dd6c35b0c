// Package timesync maps the camera's free-running tick clock onto host
// time. Arrival times jitter with transport load, so stamps are derived
// from a smoothed model of the device clock instead of being taken from
// arrival directly.
package timesync

import (
	"sync"
	"time"

	"camnode-go/internal/msg"
)

// Estimator incrementally fits host = base + skew*(tick - tickBase) +
// offset. The offset absorbs transport latency via exponential smoothing;
// the skew factor absorbs device clock drift so the residual does not grow
// with uptime. Ticks are expected to be device nanoseconds; grossly
// deviating samples are rejected as outliers, and a backwards tick jump
// (counter wrap or camera reboot) reseeds the model.
type Estimator struct {
	mu sync.Mutex

	minSamples int
	alpha      float64
	maxSkew    time.Duration

	samples  int
	outliers int
	tickBase uint64
	hostBase time.Time
	offset   float64 // smoothed residual, nanoseconds
	skew     float64 // host nanoseconds per device tick
	lastTick uint64
}

// consecutive outliers before the model is declared stale and reseeded
const reseedAfterOutliers = 8

// ticks that must elapse before residuals update the skew factor; below
// this the residual-per-tick quotient is dominated by arrival jitter
const skewMinElapsed = float64(time.Second)

type EstimatorConfig struct {
	MinSamples int
	Alpha      float64
	MaxSkew    time.Duration
}

func NewEstimator(cfg EstimatorConfig) *Estimator {
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 10
	}
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = 0.05
	}
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = 250 * time.Millisecond
	}
	return &Estimator{
		minSamples: cfg.MinSamples,
		alpha:      cfg.Alpha,
		maxSkew:    cfg.MaxSkew,
		skew:       1,
	}
}

func (e *Estimator) reseed(tick uint64, host time.Time) {
	e.tickBase = tick
	e.hostBase = host
	e.offset = 0
	e.skew = 1
	e.samples = 1
	e.outliers = 0
	e.lastTick = tick
}

// Observe feeds one (camera tick, host arrival) pair into the model.
func (e *Estimator) Observe(tick uint64, host time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.samples == 0 || tick < e.lastTick {
		e.reseed(tick, host)
		return
	}

	predicted := e.predictLocked(tick)
	residual := float64(host.Sub(predicted))
	if e.samples >= e.minSamples && (residual > float64(e.maxSkew) || residual < -float64(e.maxSkew)) {
		e.outliers++
		if e.outliers >= reseedAfterOutliers {
			e.reseed(tick, host)
		}
		return
	}

	e.outliers = 0
	e.offset += e.alpha * residual
	if elapsed := float64(tick - e.tickBase); elapsed >= skewMinElapsed {
		e.skew += e.alpha * residual / elapsed
	}
	e.samples++
	e.lastTick = tick
}

func (e *Estimator) predictLocked(tick uint64) time.Time {
	elapsed := float64(tick - e.tickBase)
	return e.hostBase.Add(time.Duration(elapsed*e.skew + e.offset))
}

// HostTime estimates the host time for a camera tick. Before the model
// has seen MinSamples observations it passes the arrival time through.
func (e *Estimator) HostTime(tick uint64, arrival time.Time) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.samples < e.minSamples {
		return arrival
	}
	return e.predictLocked(tick)
}

// Ready reports whether estimates are model-based yet.
func (e *Estimator) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.samples >= e.minSamples
}

// Keeper turns estimated stamps into wire stamps, guaranteeing strict
// monotonicity even when the estimator output steps backwards after a
// model correction.
type Keeper struct {
	mu   sync.Mutex
	last time.Time
}

func NewKeeper() *Keeper {
	return &Keeper{}
}

func (k *Keeper) Stamp(t time.Time) msg.Time {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !t.After(k.last) {
		t = k.last.Add(time.Nanosecond)
	}
	k.last = t
	return msg.FromTime(t)
}
