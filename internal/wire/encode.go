package wire

import (
	"encoding/binary"
	"math"
	"unicode/utf16"
)

const (
	// ProtocolVersion is announced in the first handshake frame.
	ProtocolVersion uint32 = 5
	// ClientBuild is announced in the second handshake frame and to discovery.
	ClientBuild uint32 = 2200049715
)

// Builder appends little-endian fields to a frame. The zero value is ready to use.
type Builder struct {
	buf []byte
}

// NewBuilder starts a frame with the given opcode.
func NewBuilder(op Opcode) *Builder {
	return (&Builder{}).U8(uint8(op))
}

func (b *Builder) U8(v uint8) *Builder {
	b.buf = append(b.buf, v)
	return b
}

func (b *Builder) U16(v uint16) *Builder {
	b.buf = binary.LittleEndian.AppendUint16(b.buf, v)
	return b
}

func (b *Builder) I16(v int16) *Builder { return b.U16(uint16(v)) }

func (b *Builder) U32(v uint32) *Builder {
	b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
	return b
}

func (b *Builder) I32(v int32) *Builder { return b.U32(uint32(v)) }

func (b *Builder) F32(v float32) *Builder { return b.U32(math.Float32bits(v)) }

func (b *Builder) F64(v float64) *Builder {
	b.buf = binary.LittleEndian.AppendUint64(b.buf, math.Float64bits(v))
	return b
}

// Raw appends bytes as they are.
func (b *Builder) Raw(p []byte) *Builder {
	b.buf = append(b.buf, p...)
	return b
}

// String8 appends s followed by a zero terminator.
func (b *Builder) String8(s string) *Builder {
	return b.Raw([]byte(s)).U8(0)
}

// Units16 appends the UTF-16 code units of s without a terminator.
func (b *Builder) Units16(s string) *Builder {
	for _, u := range utf16.Encode([]rune(s)) {
		b.U16(u)
	}
	return b
}

// String16 appends the UTF-16 code units of s followed by a zero terminator.
func (b *Builder) String16(s string) *Builder {
	return b.Units16(s).U16(0)
}

// Bytes returns the encoded frame.
func (b *Builder) Bytes() []byte { return b.buf }

// Handshake returns the two frames every connection starts with.
func Handshake() [][]byte {
	return [][]byte{
		NewBuilder(CmdHandshake1).U32(ProtocolVersion).Bytes(),
		NewBuilder(CmdHandshake2).U32(ClientBuild).Bytes(),
	}
}

// Token forwards the connection token handed out by discovery.
func Token(token string) []byte {
	return NewBuilder(CmdToken).Raw([]byte(token)).Bytes()
}

func Facebook(token string) []byte {
	return NewBuilder(CmdFacebook).Raw([]byte(token)).Bytes()
}

// Respawn requests a new cell under nick. The nickname is not terminated.
func Respawn(nick string) []byte {
	return NewBuilder(CmdRespawn).Units16(nick).Bytes()
}

// Target steers the owned cells towards (x, y); cell 0 addresses all of them.
func Target(x, y int32, cell uint32) []byte {
	return NewBuilder(CmdTarget).I32(x).I32(y).U32(cell).Bytes()
}

func Split() []byte          { return NewBuilder(CmdSplit).Bytes() }
func Eject() []byte          { return NewBuilder(CmdEject).Bytes() }
func Explode() []byte        { return NewBuilder(CmdExplode).Bytes() }
func Spectate() []byte       { return NewBuilder(CmdSpectate).Bytes() }
func SpectateToggle() []byte { return NewBuilder(CmdSpectateToggle).Bytes() }
