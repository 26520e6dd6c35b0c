package msg

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Messages are encoded as XCDR1 little-endian with the standard 4-byte
// encapsulation header, so payloads stay byte-compatible with CDR
// serializers on the other side of the wire. Alignment is relative to the
// first byte after the encapsulation header.

var encapsulationLE = [4]byte{0x00, 0x01, 0x00, 0x00}

type cdrEncoder struct {
	buf []byte
}

func newCDREncoder() *cdrEncoder {
	return &cdrEncoder{buf: make([]byte, 0, 64)}
}

func (e *cdrEncoder) align(n int) {
	pad := (n - len(e.buf)%n) % n
	for i := 0; i < pad; i++ {
		e.buf = append(e.buf, 0)
	}
}

func (e *cdrEncoder) writeU8(v uint8) {
	e.buf = append(e.buf, v)
}

func (e *cdrEncoder) writeI16(v int16) {
	e.align(2)
	e.buf = binary.LittleEndian.AppendUint16(e.buf, uint16(v))
}

func (e *cdrEncoder) writeU32(v uint32) {
	e.align(4)
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *cdrEncoder) writeI32(v int32) {
	e.writeU32(uint32(v))
}

func (e *cdrEncoder) writeU64(v uint64) {
	e.align(8)
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
}

func (e *cdrEncoder) writeF32(v float32) {
	e.writeU32(math.Float32bits(v))
}

// writeString encodes a CDR string: u32 length including the terminating
// NUL, the bytes, then the NUL.
func (e *cdrEncoder) writeString(s string) {
	e.writeU32(uint32(len(s) + 1))
	e.buf = append(e.buf, s...)
	e.buf = append(e.buf, 0)
}

// writeBytes encodes a CDR byte sequence: u32 element count then the raw bytes.
func (e *cdrEncoder) writeBytes(b []byte) {
	e.writeU32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *cdrEncoder) finish() []byte {
	out := make([]byte, 0, 4+len(e.buf))
	out = append(out, encapsulationLE[:]...)
	return append(out, e.buf...)
}

type cdrDecoder struct {
	buf []byte
	pos int
}

func newCDRDecoder(payload []byte) (*cdrDecoder, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("cdr: payload too short for encapsulation header (%d bytes)", len(payload))
	}
	if payload[0] != encapsulationLE[0] || payload[1] != encapsulationLE[1] {
		return nil, fmt.Errorf("cdr: unsupported encapsulation %02x %02x", payload[0], payload[1])
	}
	return &cdrDecoder{buf: payload[4:]}, nil
}

func (d *cdrDecoder) align(n int) {
	d.pos += (n - d.pos%n) % n
}

func (d *cdrDecoder) need(n int) error {
	if d.pos+n > len(d.buf) {
		return fmt.Errorf("cdr: truncated payload at offset %d (need %d of %d bytes)", d.pos, n, len(d.buf))
	}
	return nil
}

func (d *cdrDecoder) readU8() (uint8, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	v := d.buf[d.pos]
	d.pos++
	return v, nil
}

func (d *cdrDecoder) readI16() (int16, error) {
	d.align(2)
	if err := d.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(d.buf[d.pos:])
	d.pos += 2
	return int16(v), nil
}

func (d *cdrDecoder) readU32() (uint32, error) {
	d.align(4)
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *cdrDecoder) readI32() (int32, error) {
	v, err := d.readU32()
	return int32(v), err
}

func (d *cdrDecoder) readU64() (uint64, error) {
	d.align(8)
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return v, nil
}

func (d *cdrDecoder) readF32() (float32, error) {
	v, err := d.readU32()
	return math.Float32frombits(v), err
}

func (d *cdrDecoder) readString() (string, error) {
	length, err := d.readU32()
	if err != nil {
		return "", err
	}
	if length == 0 {
		return "", fmt.Errorf("cdr: string length 0 (missing NUL)")
	}
	if err := d.need(int(length)); err != nil {
		return "", err
	}
	s := string(d.buf[d.pos : d.pos+int(length)-1])
	d.pos += int(length)
	return s, nil
}

func (d *cdrDecoder) readBytes() ([]byte, error) {
	length, err := d.readU32()
	if err != nil {
		return nil, err
	}
	if err := d.need(int(length)); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, d.buf[d.pos:])
	d.pos += int(length)
	return out, nil
}
