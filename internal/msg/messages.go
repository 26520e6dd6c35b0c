// Package msg defines the wire records the driver node publishes and
// consumes: camera control commands and per-frame image metadata, plus the
// image payload itself. The CDR layout of CameraControl and ImageMetaData
// matches the generated type support used by existing deployments, so
// mixed fleets can interoperate.
package msg

import "time"

// BrightnessInvalid is published when a frame's brightness could not be
// computed (unsupported pixel format, malformed buffer).
const BrightnessInvalid = -1

// Time is a seconds/nanoseconds timestamp.
type Time struct {
	Sec     int32  `json:"sec"`
	Nanosec uint32 `json:"nanosec"`
}

// FromTime converts a host time to a wire Time.
func FromTime(t time.Time) Time {
	return Time{Sec: int32(t.Unix()), Nanosec: uint32(t.Nanosecond())}
}

// AsTime converts a wire Time back to a host time.
func (t Time) AsTime() time.Time {
	return time.Unix(int64(t.Sec), int64(t.Nanosec))
}

// Header carries the publish stamp and the coordinate frame of the source.
type Header struct {
	Stamp   Time   `json:"stamp"`
	FrameID string `json:"frame_id"`
}

// CameraControl commands new acquisition settings. A master node publishes
// it on the control topic; follower nodes and the master itself apply it.
type CameraControl struct {
	Header       Header  `json:"header"`
	ExposureTime uint32  `json:"exposure_time"` // microseconds, 0 = unchanged
	Gain         float32 `json:"gain"`          // dB
}

// ImageMetaData describes one acquired frame.
type ImageMetaData struct {
	Header          Header  `json:"header"`
	CameraTime      uint64  `json:"camera_time"` // device ticks
	Brightness      int16   `json:"brightness"`  // 0..255, -1 when invalid
	ExposureTime    uint32  `json:"exposure_time"`
	MaxExposureTime uint32  `json:"max_exposure_time"`
	Gain            float32 `json:"gain"`
}

// Image is the frame payload.
type Image struct {
	Header      Header `json:"header"`
	Height      uint32 `json:"height"`
	Width       uint32 `json:"width"`
	Encoding    string `json:"encoding"`
	IsBigendian uint8  `json:"is_bigendian"`
	Step        uint32 `json:"step"` // bytes per row
	Data        []byte `json:"-"`
}

func (e *cdrEncoder) writeHeader(h Header) {
	e.writeI32(h.Stamp.Sec)
	e.writeU32(h.Stamp.Nanosec)
	e.writeString(h.FrameID)
}

func (d *cdrDecoder) readHeader() (Header, error) {
	var h Header
	var err error
	if h.Stamp.Sec, err = d.readI32(); err != nil {
		return h, err
	}
	if h.Stamp.Nanosec, err = d.readU32(); err != nil {
		return h, err
	}
	h.FrameID, err = d.readString()
	return h, err
}

// Marshal encodes the control record with its encapsulation header.
func (m *CameraControl) Marshal() []byte {
	e := newCDREncoder()
	e.writeHeader(m.Header)
	e.writeU32(m.ExposureTime)
	e.writeF32(m.Gain)
	return e.finish()
}

// Unmarshal decodes a control record, rejecting truncated payloads.
func (m *CameraControl) Unmarshal(payload []byte) error {
	d, err := newCDRDecoder(payload)
	if err != nil {
		return err
	}
	if m.Header, err = d.readHeader(); err != nil {
		return err
	}
	if m.ExposureTime, err = d.readU32(); err != nil {
		return err
	}
	m.Gain, err = d.readF32()
	return err
}

func (m *ImageMetaData) Marshal() []byte {
	e := newCDREncoder()
	e.writeHeader(m.Header)
	e.writeU64(m.CameraTime)
	e.writeI16(m.Brightness)
	e.writeU32(m.ExposureTime)
	e.writeU32(m.MaxExposureTime)
	e.writeF32(m.Gain)
	return e.finish()
}

func (m *ImageMetaData) Unmarshal(payload []byte) error {
	d, err := newCDRDecoder(payload)
	if err != nil {
		return err
	}
	if m.Header, err = d.readHeader(); err != nil {
		return err
	}
	if m.CameraTime, err = d.readU64(); err != nil {
		return err
	}
	if m.Brightness, err = d.readI16(); err != nil {
		return err
	}
	if m.ExposureTime, err = d.readU32(); err != nil {
		return err
	}
	if m.MaxExposureTime, err = d.readU32(); err != nil {
		return err
	}
	m.Gain, err = d.readF32()
	return err
}

func (m *Image) Marshal() []byte {
	e := newCDREncoder()
	e.writeHeader(m.Header)
	e.writeU32(m.Height)
	e.writeU32(m.Width)
	e.writeString(m.Encoding)
	e.writeU8(m.IsBigendian)
	e.writeU32(m.Step)
	e.writeBytes(m.Data)
	return e.finish()
}

func (m *Image) Unmarshal(payload []byte) error {
	d, err := newCDRDecoder(payload)
	if err != nil {
		return err
	}
	if m.Header, err = d.readHeader(); err != nil {
		return err
	}
	if m.Height, err = d.readU32(); err != nil {
		return err
	}
	if m.Width, err = d.readU32(); err != nil {
		return err
	}
	if m.Encoding, err = d.readString(); err != nil {
		return err
	}
	if m.IsBigendian, err = d.readU8(); err != nil {
		return err
	}
	if m.Step, err = d.readU32(); err != nil {
		return err
	}
	m.Data, err = d.readBytes()
	return err
}
