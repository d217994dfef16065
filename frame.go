// Package canopen provides the wire-level CAN frame type and a handful of
// sentinel errors shared by every subsystem of the stack (object dictionary,
// SDO server, PDO engine, NMT/LSS slaves, node).
package canopen

import "errors"

// MaxCanId is the largest standard 11-bit CAN identifier.
const MaxCanId = 0x7FF

// Frame is a single CAN data frame. All CANopen protocol frames carry
// exactly 8 bytes of data (§6); DLC is kept for completeness and for
// drivers that deliver RTR frames with DLC 0.
type Frame struct {
	ID    uint32
	RTR   bool
	DLC   uint8
	Data  [8]byte
}

// NewFrame builds a data frame with dlc bytes, zero-filled.
func NewFrame(id uint32, dlc uint8) Frame {
	return Frame{ID: id, DLC: dlc}
}

var (
	ErrIllegalArgument = errors.New("canopen: illegal argument")
	ErrOdParameters    = errors.New("canopen: invalid object dictionary parameters")
	ErrTimeout         = errors.New("canopen: operation timed out")
	ErrInvalidState    = errors.New("canopen: invalid state for requested operation")
)
