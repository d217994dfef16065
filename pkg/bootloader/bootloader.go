// Package bootloader implements the bootloader-discrimination objects at OD
// index 0x5500 (info) and 0x5510+s (per-section access), left as an Open
// Question by spec §9(iii): the object layout is resolved here, the
// post-reboot mechanism remains out of scope.
package bootloader

import (
	"github.com/canofirmware/nodestack/pkg/od"
)

// EraseMagic is the value a section's sub 3 expects to trigger an erase.
const EraseMagic uint32 = 0xE5A5E5A5

// bootMagic is the ASCII "BOOT" value that must be written to the info
// object's sub 3 to request a reboot into the bootloader (spec §9(iii)).
var bootMagic = [4]byte{'B', 'O', 'O', 'T'}

// Info implements OD 0x5500: sub 1 discriminates APP vs. bootloader image
// (bit 0 always set, bit 1 set iff running the application), sub 2 reports
// the number of flashable sections, sub 3 is a write-only magic value that
// raises a reset flag for the application to poll.
type Info struct {
	app         bool
	numSections uint8
	resetFlag   bool
}

// NewInfo builds the 0x5500 object. app is true when this image is the
// application (as opposed to the bootloader itself); numSections is the
// count of 0x5510+s section objects registered alongside it.
func NewInfo(app bool, numSections uint8) *Info {
	return &Info{app: app, numSections: numSections}
}

// ResetRequested reports whether "BOOT" has been written to sub 3 since
// the flag was last cleared.
func (i *Info) ResetRequested() bool { return i.resetFlag }

// ClearResetRequest clears the flag once the application has acted on it.
func (i *Info) ClearResetRequest() { i.resetFlag = false }

func (i *Info) Read(sub uint8, offset uint32, buf []byte) (int, error) {
	if offset != 0 {
		return 0, od.AbortUnsupportedAccess
	}
	switch sub {
	case 0:
		if len(buf) < 1 {
			return 0, nil
		}
		buf[0] = 3
		return 1, nil
	case 1:
		if len(buf) != 4 {
			return 0, od.AbortDataTypeMismatch
		}
		config := uint32(1)
		if i.app {
			config |= 1 << 1
		}
		copy(buf, od.EncodeUint(4, config))
		return 4, nil
	case 2:
		if len(buf) < 1 {
			return 0, nil
		}
		buf[0] = i.numSections
		return 1, nil
	case 3:
		return 0, od.AbortWriteOnly
	default:
		return 0, od.AbortNoSuchSubIndex
	}
}

func (i *Info) Write(sub uint8, data []byte) error {
	switch sub {
	case 0, 1, 2:
		return od.AbortReadOnly
	case 3:
		if !i.app {
			return od.AbortUnsupportedAccess
		}
		if len(data) != 4 || [4]byte(data[:4]) != bootMagic {
			return od.AbortInvalidValue
		}
		i.resetFlag = true
		return nil
	default:
		return od.AbortNoSuchSubIndex
	}
}

func (i *Info) SubInfo(sub uint8) (od.SubInfo, error) {
	switch sub {
	case 0:
		return od.SubInfo{Size: 1, DataType: od.UInt8, Access: od.Ro}, nil
	case 1:
		return od.SubInfo{Size: 4, DataType: od.UInt32, Access: od.Ro}, nil
	case 2:
		return od.SubInfo{Size: 1, DataType: od.UInt8, Access: od.Ro}, nil
	case 3:
		return od.SubInfo{Size: 4, DataType: od.UInt32, Access: od.Wo}, nil
	default:
		return od.SubInfo{}, od.AbortNoSuchSubIndex
	}
}

// BeginPartial/WritePartial/EndPartial: none of sub 1/2/3 accept the
// streaming-write transaction (sub 3 is a one-shot 4-byte magic).
func (i *Info) BeginPartial(sub uint8) error                  { return od.AbortUnsupportedAccess }
func (i *Info) WritePartial(sub uint8, data []byte) (int, error) { return 0, od.AbortUnsupportedAccess }
func (i *Info) EndPartial(sub uint8) error                    { return od.AbortUnsupportedAccess }

func (i *Info) ObjectCode() od.ObjectCode { return od.ObjectRecord }

func (i *Info) SetEventFlag(sub uint8) error      { return od.AbortUnsupportedAccess }
func (i *Info) ReadEventFlag(sub uint8) (bool, error) { return false, od.AbortUnsupportedAccess }
func (i *Info) ClearEvents()                      {}

func (i *Info) CurrentSize(sub uint8) (uint32, error) {
	info, err := i.SubInfo(sub)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

// SectionCallbacks lets the application back a flashable section with real
// storage. Erase/Finalize report success; Write streams one chunk at a
// time between them.
type SectionCallbacks interface {
	Erase() bool
	Write(data []byte)
	Finalize() bool
}

// Section implements one OD 0x5510+s entry: sub 1 the record's own object
// code, sub 2 a human-readable name, sub 3 a write-only erase trigger, sub
// 4 the section body as a Domain, streamed via begin/write/end partial
// into whatever SectionCallbacks the application has registered.
type Section struct {
	name      string
	size      uint32
	callbacks SectionCallbacks
	erased    bool
}

// NewSection creates an unregistered section description; call
// RegisterCallbacks before any bus write to sub 3/4 can succeed.
func NewSection(name string, size uint32) *Section {
	return &Section{name: name, size: size}
}

// RegisterCallbacks installs the application's storage backend.
func (s *Section) RegisterCallbacks(cb SectionCallbacks) { s.callbacks = cb }

func (s *Section) Read(sub uint8, offset uint32, buf []byte) (int, error) {
	switch sub {
	case 0:
		if offset != 0 || len(buf) < 1 {
			return 0, nil
		}
		buf[0] = 4
		return 1, nil
	case 1:
		if offset != 0 || len(buf) < 1 {
			return 0, nil
		}
		buf[0] = 1
		return 1, nil
	case 2:
		if int(offset) >= len(s.name) {
			return 0, nil
		}
		return copy(buf, s.name[offset:]), nil
	case 3:
		return 0, od.AbortWriteOnly
	case 4:
		return 0, od.AbortWriteOnly
	default:
		return 0, od.AbortNoSuchSubIndex
	}
}

func (s *Section) Write(sub uint8, data []byte) error {
	switch sub {
	case 0, 1, 2:
		return od.AbortReadOnly
	case 3:
		if len(data) != 4 || od.DecodeUint(data) != EraseMagic {
			return od.AbortInvalidValue
		}
		if s.callbacks == nil {
			return od.AbortResourceNotAvailable
		}
		if !s.callbacks.Erase() {
			return od.AbortGeneral
		}
		s.erased = true
		return nil
	case 4:
		if s.callbacks == nil {
			return od.AbortResourceNotAvailable
		}
		if !s.erased {
			return od.AbortDeviceState
		}
		s.callbacks.Write(data)
		if !s.callbacks.Finalize() {
			return od.AbortGeneral
		}
		return nil
	default:
		return od.AbortNoSuchSubIndex
	}
}

func (s *Section) BeginPartial(sub uint8) error {
	if sub != 4 {
		return od.AbortUnsupportedAccess
	}
	if s.callbacks == nil {
		return od.AbortResourceNotAvailable
	}
	if !s.erased {
		return od.AbortDeviceState
	}
	return nil
}

func (s *Section) WritePartial(sub uint8, data []byte) (int, error) {
	if sub != 4 {
		return 0, od.AbortUnsupportedAccess
	}
	s.callbacks.Write(data)
	return len(data), nil
}

func (s *Section) EndPartial(sub uint8) error {
	if sub != 4 {
		return od.AbortUnsupportedAccess
	}
	if !s.callbacks.Finalize() {
		return od.AbortGeneral
	}
	return nil
}

func (s *Section) SubInfo(sub uint8) (od.SubInfo, error) {
	switch sub {
	case 0:
		return od.SubInfo{Size: 1, DataType: od.UInt8, Access: od.Ro}, nil
	case 1:
		return od.SubInfo{Size: 1, DataType: od.UInt8, Access: od.Ro}, nil
	case 2:
		return od.SubInfo{Size: uint32(len(s.name)), DataType: od.VisibleString, Access: od.Ro}, nil
	case 3:
		return od.SubInfo{Size: 4, DataType: od.UInt32, Access: od.Wo}, nil
	case 4:
		return od.SubInfo{Size: s.size, DataType: od.Domain, Access: od.Rw}, nil
	default:
		return od.SubInfo{}, od.AbortNoSuchSubIndex
	}
}

func (s *Section) ObjectCode() od.ObjectCode { return od.ObjectRecord }

func (s *Section) SetEventFlag(sub uint8) error          { return od.AbortUnsupportedAccess }
func (s *Section) ReadEventFlag(sub uint8) (bool, error) { return false, od.AbortUnsupportedAccess }
func (s *Section) ClearEvents()                          {}

func (s *Section) CurrentSize(sub uint8) (uint32, error) {
	if sub == 2 {
		return uint32(len(s.name)), nil
	}
	info, err := s.SubInfo(sub)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}
