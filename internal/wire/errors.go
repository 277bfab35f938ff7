package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrUnderflow matches every UnderflowError via errors.Is.
	ErrUnderflow = errors.New("wire: buffer underflow")
	// ErrUnknownOpcode matches every UnknownOpcodeError via errors.Is.
	ErrUnknownOpcode = errors.New("wire: unknown opcode")
)

// UnderflowError reports a read that needed more bytes than the buffer had left.
type UnderflowError struct {
	Want int
	Have int
}

func (e *UnderflowError) Error() string {
	return fmt.Sprintf("wire: buffer too short: wanted %d bytes, got %d", e.Want, e.Have)
}

// Is lets callers match the sentinel without caring about the widths.
func (e *UnderflowError) Is(target error) bool { return target == ErrUnderflow }

// UnknownOpcodeError carries the leading byte of a frame no decoder is registered for.
type UnknownOpcodeError struct {
	Opcode byte
}

func (e *UnknownOpcodeError) Error() string {
	return fmt.Sprintf("wire: unknown opcode %d (0x%02x)", e.Opcode, e.Opcode)
}

// Is lets callers match the sentinel without caring about the byte.
func (e *UnknownOpcodeError) Is(target error) bool { return target == ErrUnknownOpcode }

// AnomalyKind classifies non-fatal irregularities found while decoding.
type AnomalyKind string

const (
	// AnomalyInvalidSkin marks a skin reference that did not start with ':'.
	AnomalyInvalidSkin AnomalyKind = "invalid_skin"
)

// Anomaly describes one discarded optional sub-field.
type Anomaly struct {
	Kind   AnomalyKind
	CellID uint32
	Detail string
}

func (a Anomaly) String() string {
	return fmt.Sprintf("%s cell=%d %s", a.Kind, a.CellID, a.Detail)
}
