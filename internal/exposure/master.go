package exposure

import (
	"math"

	"camnode-go/internal/msg"
)

// Master servos brightness toward the configured target. Exposure time is
// the preferred actuator; gain is only raised once exposure has hit its
// cap, and is lowered again before exposure when the scene gets brighter.
// At most one command is in flight: no new correction is issued until the
// previous one shows up in metadata or MaxWaitFrames have passed.
type Master struct {
	cfg Config

	current       Settings
	pending       bool
	pendingFrames int
	lastCmd       Settings
}

func NewMaster(cfg Config) *Master {
	cfg.defaults()
	return &Master{
		cfg: cfg,
		current: Settings{
			ExposureTime: cfg.InitialExposure,
			Gain:         float32(cfg.InitialGain),
		},
	}
}

// Per-step correction ratio is bounded to keep the servo stable around
// saturation, where the brightness response is far from linear.
const (
	maxStepRatio = 4.0
	minStepRatio = 0.25
	gainEpsilon  = 0.05
)

func (m *Master) Update(meta msg.ImageMetaData) (Settings, bool) {
	if meta.Brightness < 0 {
		return Settings{}, false
	}

	if m.pending {
		if m.observed(meta) {
			m.pending = false
			m.current = m.lastCmd
		} else {
			m.pendingFrames++
			if m.pendingFrames < m.cfg.MaxWaitFrames {
				return Settings{}, false
			}
			// Command never showed up; fall back to what the camera reports.
			m.pending = false
		}
	}

	if meta.ExposureTime > 0 {
		m.current = Settings{ExposureTime: meta.ExposureTime, Gain: meta.Gain}
	}

	err := m.cfg.TargetBrightness - int(meta.Brightness)
	if err >= -m.cfg.Deadband && err <= m.cfg.Deadband {
		return Settings{}, false
	}

	ratio := m.stepRatio(int(meta.Brightness))
	next := m.plan(ratio, meta.MaxExposureTime)
	if next.ExposureTime == m.current.ExposureTime &&
		math.Abs(float64(next.Gain-m.current.Gain)) < gainEpsilon {
		return Settings{}, false
	}

	m.pending = true
	m.pendingFrames = 0
	m.lastCmd = next
	return next, true
}

// Control is a no-op on the master; it originates commands rather than
// following them.
func (m *Master) Control(msg.CameraControl) (Settings, bool) {
	return Settings{}, false
}

func (m *Master) observed(meta msg.ImageMetaData) bool {
	return meta.ExposureTime == m.lastCmd.ExposureTime &&
		math.Abs(float64(meta.Gain-m.lastCmd.Gain)) < gainEpsilon
}

func (m *Master) stepRatio(brightness int) float64 {
	if brightness < 1 {
		brightness = 1
	}
	ratio := float64(m.cfg.TargetBrightness) / float64(brightness)
	if ratio > maxStepRatio {
		ratio = maxStepRatio
	} else if ratio < minStepRatio {
		ratio = minStepRatio
	}
	return ratio
}

func (m *Master) plan(ratio float64, frameCap uint32) Settings {
	capExposure := m.cfg.MaxExposureTime
	if frameCap > 0 && frameCap < capExposure {
		capExposure = frameCap
	}

	exposure := float64(m.current.ExposureTime)
	gain := float64(m.current.Gain)

	if ratio >= 1 {
		// Too dark: exposure first, then gain for whatever is left.
		newExposure := clampF(exposure*ratio, float64(m.cfg.MinExposureTime), float64(capExposure))
		remaining := ratio * exposure / newExposure
		newGain := gain
		if remaining > 1.01 {
			newGain = clampF(gain+20*math.Log10(remaining), m.cfg.MinGain, m.cfg.MaxGain)
		}
		return Settings{ExposureTime: uint32(math.Round(newExposure)), Gain: float32(newGain)}
	}

	// Too bright: shed gain before shortening exposure.
	reduction := -20 * math.Log10(ratio) // dB to remove, positive
	newGain := clampF(gain-reduction, m.cfg.MinGain, m.cfg.MaxGain)
	applied := math.Pow(10, (gain-newGain)/20)
	remaining := ratio * applied
	newExposure := exposure
	if remaining < 0.99 {
		newExposure = clampF(exposure*remaining, float64(m.cfg.MinExposureTime), float64(capExposure))
	}
	return Settings{ExposureTime: uint32(math.Round(newExposure)), Gain: float32(newGain)}
}

func clampF(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
