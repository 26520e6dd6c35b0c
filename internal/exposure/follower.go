package exposure

import "camnode-go/internal/msg"

// Follower applies the master's control commands verbatim and never
// originates corrections of its own. Repeated identical commands are
// deduplicated so reapplying a broadcast is free.
type Follower struct {
	last    Settings
	applied bool
}

func NewFollower() *Follower {
	return &Follower{}
}

func (f *Follower) Update(msg.ImageMetaData) (Settings, bool) {
	return Settings{}, false
}

func (f *Follower) Control(ctl msg.CameraControl) (Settings, bool) {
	next := Settings{ExposureTime: ctl.ExposureTime, Gain: ctl.Gain}
	if next.ExposureTime == 0 && f.applied {
		// Zero exposure means "unchanged" on the wire.
		next.ExposureTime = f.last.ExposureTime
	}
	if f.applied && next == f.last {
		return Settings{}, false
	}
	f.last = next
	f.applied = true
	return next, true
}
