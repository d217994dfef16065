// Package lss implements the layer-setting-services slave (spec §4.7): node
// ID and bit-timing configuration for an otherwise-unconfigured node,
// including the FastScan binary-search identification algorithm.
package lss

import (
	"encoding/binary"
	"log/slog"

	"github.com/canofirmware/nodestack/pkg/od"
)

// Command specifiers, byte 0 of every LSS frame.
const (
	cmdSwitchModeGlobal  = 0x04
	cmdConfigureNodeId   = 0x11
	cmdConfigureBitTime  = 0x13
	cmdActivateBitTime   = 0x15
	cmdStoreConfig       = 0x17
	cmdSwitchStateVendor = 0x40
	cmdSwitchStateProduct = 0x41
	cmdSwitchStateRev    = 0x42
	cmdSwitchStateSerial = 0x43
	cmdSwitchStateResult = 0x44
	cmdIdentifySlave     = 0x4F
	cmdFastScan          = 0x51
	cmdInquireVendor     = 0x5A
	cmdInquireProduct    = 0x5B
	cmdInquireRev        = 0x5C
	cmdInquireSerial     = 0x5D
	cmdInquireNodeId     = 0x5E
)

// fastScanConfirm is the bit_check sentinel that resets and confirms
// presence of at least one unconfigured slave (spec §4.7).
const fastScanConfirm = 0x80

const (
	ConfigOk             = 0
	ConfigNodeIdOutOfRange = 1
)

// State is the LSS slave's local mode.
type State uint8

const (
	Waiting State = iota
	Configuring
)

// Identity is the four 32-bit words read from OD 0x1018 that uniquely
// address a node for selective switch and FastScan.
type Identity struct {
	Vendor   uint32
	Product  uint32
	Revision uint32
	Serial   uint32
}

func (id Identity) byAddr(sub uint8) uint32 {
	switch sub {
	case 0:
		return id.Vendor
	case 1:
		return id.Product
	case 2:
		return id.Revision
	case 3:
		return id.Serial
	default:
		return 0
	}
}

// Slave implements the LSS slave state machine.
type Slave struct {
	logger *slog.Logger

	identity Identity
	state    State

	// switchSelect accumulates the 4-step selective-switch address as
	// each SwitchState* frame arrives.
	switchSelect Identity

	fastScanSub uint8

	pendingNodeId uint8

	onStore func()
	onNodeIdChanged func(uint8)
}

// New builds an LSS slave reading its identity from OD entry 0x1018
// (sub 1..4: vendor, product, revision, serial).
func New(logger *slog.Logger, identity1018 *od.Entry, onNodeIdChanged func(uint8), onStore func()) *Slave {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Slave{logger: logger.With("service", "lss"), state: Waiting, onStore: onStore, onNodeIdChanged: onNodeIdChanged}
	if identity1018 != nil {
		s.identity.Vendor, _ = identity1018.Uint32(1)
		s.identity.Product, _ = identity1018.Uint32(2)
		s.identity.Revision, _ = identity1018.Uint32(3)
		s.identity.Serial, _ = identity1018.Uint32(4)
	}
	return s
}

// State reports the slave's current LSS mode.
func (s *Slave) State() State { return s.state }

func identifySlaveResponse() [8]byte {
	return [8]byte{cmdIdentifySlave}
}

// HandleFrame processes one drained LSS request frame and returns the
// response frame to send, if any (spec §4.7).
func (s *Slave) HandleFrame(data [8]byte) ([8]byte, bool) {
	switch data[0] {
	case cmdSwitchModeGlobal:
		switch data[1] {
		case 0:
			s.state = Waiting
		case 1:
			s.state = Configuring
		default:
			s.logger.Debug("unknown lss switch mode", "mode", data[1])
		}
		return [8]byte{}, false

	case cmdSwitchStateVendor:
		s.switchSelect.Vendor = binary.LittleEndian.Uint32(data[1:5])
		return [8]byte{}, false
	case cmdSwitchStateProduct:
		s.switchSelect.Product = binary.LittleEndian.Uint32(data[1:5])
		return [8]byte{}, false
	case cmdSwitchStateRev:
		s.switchSelect.Revision = binary.LittleEndian.Uint32(data[1:5])
		return [8]byte{}, false
	case cmdSwitchStateSerial:
		s.switchSelect.Serial = binary.LittleEndian.Uint32(data[1:5])
		if s.switchSelect == s.identity {
			s.state = Configuring
			return [8]byte{cmdSwitchStateResult}, true
		}
		return [8]byte{}, false

	case cmdFastScan:
		return s.handleFastScan(data)

	case cmdConfigureNodeId:
		if s.state != Configuring {
			return [8]byte{}, false
		}
		nodeId := data[1]
		if !(nodeId >= 1 && nodeId <= 0x7F) && nodeId != 0xFF {
			return [8]byte{cmdConfigureNodeId, ConfigNodeIdOutOfRange, 0}, true
		}
		s.pendingNodeId = nodeId
		if s.onNodeIdChanged != nil {
			s.onNodeIdChanged(nodeId)
		}
		return [8]byte{cmdConfigureNodeId, ConfigOk, 0}, true

	case cmdConfigureBitTime:
		if s.state != Configuring {
			return [8]byte{}, false
		}
		// table/index accepted but not acted on; no physical bus to retime.
		return [8]byte{cmdConfigureBitTime, ConfigOk, 0}, true

	case cmdActivateBitTime:
		// No response per spec.
		return [8]byte{}, false

	case cmdStoreConfig:
		if s.state != Configuring {
			return [8]byte{}, false
		}
		if s.onStore != nil {
			s.onStore()
		}
		return [8]byte{cmdStoreConfig, ConfigOk, 0}, true

	case cmdInquireVendor, cmdInquireProduct, cmdInquireRev, cmdInquireSerial, cmdInquireNodeId:
		if s.state != Configuring {
			return [8]byte{}, false
		}
		return s.handleInquire(data[0]), true

	default:
		s.logger.Debug("unknown lss command", "cmd", data[0])
		return [8]byte{}, false
	}
}

func (s *Slave) handleInquire(cmd byte) [8]byte {
	var resp [8]byte
	resp[0] = cmd
	switch cmd {
	case cmdInquireVendor:
		binary.LittleEndian.PutUint32(resp[1:5], s.identity.Vendor)
	case cmdInquireProduct:
		binary.LittleEndian.PutUint32(resp[1:5], s.identity.Product)
	case cmdInquireRev:
		binary.LittleEndian.PutUint32(resp[1:5], s.identity.Revision)
	case cmdInquireSerial:
		binary.LittleEndian.PutUint32(resp[1:5], s.identity.Serial)
	case cmdInquireNodeId:
		resp[1] = s.pendingNodeId
	}
	return resp
}

// handleFastScan implements the binary-search identity match (spec §4.7).
func (s *Slave) handleFastScan(data [8]byte) ([8]byte, bool) {
	if s.state != Waiting {
		return [8]byte{}, false
	}
	candidate := binary.LittleEndian.Uint32(data[1:5])
	bitCheck := data[5]
	sub := data[6]
	next := data[7]

	if bitCheck == fastScanConfirm {
		s.fastScanSub = 0
		return identifySlaveResponse(), true
	}
	if s.fastScanSub != sub {
		return [8]byte{}, false
	}

	mask := uint32(0xFFFFFFFF) << bitCheck
	if s.identity.byAddr(sub)&mask != candidate&mask {
		return [8]byte{}, false
	}

	s.fastScanSub = next
	if bitCheck == 0 && next < sub {
		s.state = Configuring
	}
	return identifySlaveResponse(), true
}
