package msg

import (
	"bytes"
	"testing"
)

func TestCameraControlWireLayout(t *testing.T) {
	m := CameraControl{
		Header:       Header{Stamp: Time{Sec: 1, Nanosec: 2}, FrameID: "cam"},
		ExposureTime: 5000,
		Gain:         1.5,
	}

	want := []byte{
		0x00, 0x01, 0x00, 0x00, // encapsulation, CDR little-endian
		0x01, 0x00, 0x00, 0x00, // stamp.sec
		0x02, 0x00, 0x00, 0x00, // stamp.nanosec
		0x04, 0x00, 0x00, 0x00, 'c', 'a', 'm', 0x00, // frame_id
		0x88, 0x13, 0x00, 0x00, // exposure_time = 5000
		0x00, 0x00, 0xc0, 0x3f, // gain = 1.5
	}

	got := m.Marshal()
	if !bytes.Equal(got, want) {
		t.Fatalf("unexpected wire bytes:\n got %x\nwant %x", got, want)
	}

	var back CameraControl
	if err := back.Unmarshal(got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != m {
		t.Fatalf("round trip mismatch: %+v != %+v", back, m)
	}
}

func TestImageMetaDataAlignmentPadding(t *testing.T) {
	m := ImageMetaData{
		Header:          Header{Stamp: Time{Sec: 10, Nanosec: 20}, FrameID: "cam"},
		CameraTime:      1234567890,
		Brightness:      128,
		ExposureTime:    9000,
		MaxExposureTime: 33000,
		Gain:            3.25,
	}

	payload := m.Marshal()

	// Body offsets (after the 4-byte encapsulation header): the header with a
	// 3-char frame_id ends at 16, camera_time occupies 16..24, brightness
	// 24..26, then two zero padding bytes realign exposure_time to 28.
	if payload[4+26] != 0 || payload[4+27] != 0 {
		t.Fatalf("expected zero padding after brightness, got %x", payload[30:32])
	}
	wantLen := 4 + 16 + 8 + 2 + 2 + 4 + 4 + 4
	if len(payload) != wantLen {
		t.Fatalf("unexpected payload length %d, want %d", len(payload), wantLen)
	}

	var back ImageMetaData
	if err := back.Unmarshal(payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != m {
		t.Fatalf("round trip mismatch: %+v != %+v", back, m)
	}
}

func TestImageRoundTrip(t *testing.T) {
	m := Image{
		Header:   Header{Stamp: Time{Sec: 5, Nanosec: 6}, FrameID: ""},
		Height:   2,
		Width:    3,
		Encoding: "mono8",
		Step:     3,
		Data:     []byte{1, 2, 3, 4, 5, 6},
	}

	var back Image
	if err := back.Unmarshal(m.Marshal()); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Encoding != "mono8" || back.Height != 2 || back.Width != 3 || back.Step != 3 {
		t.Fatalf("unexpected decoded image: %+v", back)
	}
	if !bytes.Equal(back.Data, m.Data) {
		t.Fatalf("unexpected data: %v", back.Data)
	}
	// Empty frame_id still carries its NUL terminator on the wire.
	payload := m.Marshal()
	if payload[4+8] != 1 {
		t.Fatalf("expected frame_id length 1, got %d", payload[4+8])
	}
}

func TestUnmarshalRejectsBadInput(t *testing.T) {
	var ctl CameraControl
	if err := ctl.Unmarshal([]byte{0x00, 0x01}); err == nil {
		t.Fatalf("expected error for short payload")
	}
	if err := ctl.Unmarshal([]byte{0x00, 0x03, 0x00, 0x00, 0x01}); err == nil {
		t.Fatalf("expected error for unknown encapsulation")
	}

	full := (&CameraControl{Header: Header{FrameID: "cam"}}).Marshal()
	if err := ctl.Unmarshal(full[:len(full)-2]); err == nil {
		t.Fatalf("expected error for truncated payload")
	}
}
