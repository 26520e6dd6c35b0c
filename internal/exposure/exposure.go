// Package exposure implements the automatic exposure layer for
// synchronized camera groups: a master controller that servos exposure
// time and gain toward a brightness target, and a follower that mirrors
// the control commands a master publishes.
package exposure

import (
	"fmt"

	"camnode-go/internal/msg"
)

// Settings is one exposure/gain operating point.
type Settings struct {
	ExposureTime uint32  // microseconds
	Gain         float32 // dB
}

// Controller reacts to acquired-frame metadata and to control-topic
// messages. Update is called once per frame; Control once per received
// CameraControl. Either may return new settings to apply.
type Controller interface {
	Update(meta msg.ImageMetaData) (Settings, bool)
	Control(ctl msg.CameraControl) (Settings, bool)
}

// Config bounds the controllers.
type Config struct {
	TargetBrightness int     // 0..255
	Deadband         int     // no correction while |error| <= Deadband
	MinExposureTime  uint32  // microseconds
	MaxExposureTime  uint32  // hard cap; per-frame cap comes from metadata
	MinGain          float64 // dB
	MaxGain          float64 // dB
	MaxWaitFrames    int     // frames to wait for a command to take effect
	InitialExposure  uint32
	InitialGain      float64
}

func (c *Config) defaults() {
	if c.TargetBrightness <= 0 {
		c.TargetBrightness = 100
	}
	if c.Deadband <= 0 {
		c.Deadband = 5
	}
	if c.MinExposureTime == 0 {
		c.MinExposureTime = 20
	}
	if c.MaxExposureTime == 0 {
		c.MaxExposureTime = 30000000
	}
	if c.MaxGain == 0 {
		c.MaxGain = 30
	}
	if c.MaxWaitFrames <= 0 {
		c.MaxWaitFrames = 10
	}
	if c.InitialExposure == 0 {
		c.InitialExposure = 10000
	}
}

// New builds a controller by name. Known names are "master" and
// "follower"; anything else is a configuration error.
func New(name string, cfg Config) (Controller, error) {
	switch name {
	case "master":
		return NewMaster(cfg), nil
	case "follower":
		return NewFollower(), nil
	default:
		return nil, fmt.Errorf("exposure: unknown controller %q", name)
	}
}
