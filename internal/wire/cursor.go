package wire

import (
	"encoding/binary"
	"math"
	"strings"
)

// wideReserved is the 16-bit code unit the historic servers use as an extra name terminator.
const wideReserved = 14

// wideCutoff is the largest 16-bit code unit accepted inside a name.
const wideCutoff = 254

// Cursor reads little-endian scalars sequentially from an immutable buffer.
// Every scalar read either consumes exactly the bytes it needs or fails with
// an UnderflowError and leaves the cursor where it was.
type Cursor struct {
	buf []byte
	off int
}

// NewCursor wraps buf without copying it.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Remaining reports how many bytes are left to read.
func (c *Cursor) Remaining() int { return len(c.buf) - c.off }

// Offset reports how many bytes have been consumed.
func (c *Cursor) Offset() int { return c.off }

func (c *Cursor) take(n int) ([]byte, error) {
	if n < 0 || c.Remaining() < n {
		return nil, &UnderflowError{Want: n, Have: c.Remaining()}
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}

// Skip discards n bytes.
func (c *Cursor) Skip(n int) error {
	_, err := c.take(n)
	return err
}

func (c *Cursor) Uint8() (uint8, error) {
	b, err := c.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *Cursor) Int8() (int8, error) {
	v, err := c.Uint8()
	return int8(v), err
}

func (c *Cursor) Uint16() (uint16, error) {
	b, err := c.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (c *Cursor) Int16() (int16, error) {
	v, err := c.Uint16()
	return int16(v), err
}

func (c *Cursor) Uint32() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *Cursor) Int32() (int32, error) {
	v, err := c.Uint32()
	return int32(v), err
}

func (c *Cursor) Float32() (float32, error) {
	v, err := c.Uint32()
	return math.Float32frombits(v), err
}

func (c *Cursor) Float64() (float64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// String8 reads 8-bit code units up to a zero terminator.
func (c *Cursor) String8() (string, error) {
	var sb strings.Builder
	for {
		u, err := c.Uint8()
		if err != nil {
			return "", err
		}
		if u == 0 {
			return sb.String(), nil
		}
		sb.WriteByte(u)
	}
}

// String16 reads 16-bit code units until 0, the reserved unit 14, or any unit
// above 254. Running out of bytes before a terminator is an underflow.
func (c *Cursor) String16() (string, error) {
	var sb strings.Builder
	for {
		u, err := c.Uint16()
		if err != nil {
			return "", err
		}
		if u == 0 || u == wideReserved || u > wideCutoff {
			return sb.String(), nil
		}
		sb.WriteRune(rune(u))
	}
}
