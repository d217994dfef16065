// Package mailbox implements the receive-side frame classifier (spec §4.8):
// a lock-free inbox fed by the driver's ISR/thread and drained once per
// Node.process() tick.
package mailbox

import (
	"log/slog"
	"sync/atomic"

	canopen "github.com/canofirmware/nodestack"
)

// MaxRPDOs bounds the number of RPDO slots a mailbox can classify into,
// a compile-time resource limit per spec §5.
const MaxRPDOs = 16

// Predefined COB-IDs classified before any RPDO/SDO lookup (spec §4.8, §6).
const (
	NmtCmdId uint32 = 0x000
	SyncId   uint32 = 0x080
	LssReqId uint32 = 0x7E5
)

// NodeIdUnconfigured mirrors the LSS "unconfigured" sentinel; while the
// mailbox holds this node ID the SDO slot never classifies anything (spec
// §4.8 rule 5: "if a node ID is configured").
const NodeIdUnconfigured uint8 = 0xFF

type frameSlot struct {
	p atomic.Pointer[[8]byte]
}

func (s *frameSlot) store(data [8]byte) { s.p.Store(&data) }

func (s *frameSlot) take() ([8]byte, bool) {
	p := s.p.Swap(nil)
	if p == nil {
		return [8]byte{}, false
	}
	return *p, true
}

type rpdoSlot struct {
	cobId atomic.Uint32
	valid atomic.Bool
	data  frameSlot
}

// Mailbox classifies inbound frames into fixed slots with overwrite
// semantics: a new frame replaces an unconsumed one rather than queueing
// (spec §4.8, §5). Block-transfer segment frames are not special-cased at
// this layer; they travel through the ordinary SDO slot like any other SDO
// frame, which keeps the mailbox ignorant of SDO protocol state at the cost
// of the ISR-direct-buffer-write optimisation the spec mentions as an
// alternative.
type Mailbox struct {
	logger *slog.Logger

	nodeId atomic.Uint32 // stores uint8, NodeIdUnconfigured until set

	nmt  frameSlot
	sync atomic.Bool
	lss  frameSlot
	sdo  frameSlot

	rpdos [MaxRPDOs]rpdoSlot
}

// New builds an empty mailbox with no node ID configured.
func New(logger *slog.Logger) *Mailbox {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mailbox{logger: logger.With("service", "mailbox")}
	m.nodeId.Store(uint32(NodeIdUnconfigured))
	return m
}

// SetNodeId updates the node ID used to classify SDO request frames. Called
// by the LSS slave on successful configuration.
func (m *Mailbox) SetNodeId(id uint8) { m.nodeId.Store(uint32(id)) }

// NodeId returns the currently configured node ID.
func (m *Mailbox) NodeId() uint8 { return uint8(m.nodeId.Load()) }

// ConfigureRPDO installs or updates the COB-ID filter for RPDO slot i. The
// node calls it at construction and again on every Process tick with each
// RPDO's current COB-ID, so a COB-ID written over SDO takes effect for
// classification from the next tick.
func (m *Mailbox) ConfigureRPDO(i int, cobId uint32, valid bool) {
	if i < 0 || i >= MaxRPDOs {
		return
	}
	slot := &m.rpdos[i]
	slot.cobId.Store(cobId)
	slot.valid.Store(valid)
}

// StoreMessage classifies one inbound frame (spec §4.8 write side). It
// never blocks and is safe to call from an interrupt context. Returns false
// if the frame matched no slot.
func (m *Mailbox) StoreMessage(frame canopen.Frame) bool {
	switch {
	case frame.ID == NmtCmdId:
		m.nmt.store(frame.Data)
		return true
	case frame.ID == SyncId:
		m.sync.Store(true)
		return true
	case frame.ID == LssReqId:
		m.lss.store(frame.Data)
		return true
	}

	for i := range m.rpdos {
		slot := &m.rpdos[i]
		if slot.valid.Load() && frame.ID == slot.cobId.Load() {
			slot.data.store(frame.Data)
			return true
		}
	}

	nodeId := m.nodeId.Load()
	if nodeId != uint32(NodeIdUnconfigured) && frame.ID == 0x600+nodeId {
		m.sdo.store(frame.Data)
		return true
	}

	m.logger.Debug("unhandled frame", "id", frame.ID)
	return false
}

// DrainNMT returns the pending NMT command frame payload, if any.
func (m *Mailbox) DrainNMT() ([8]byte, bool) { return m.nmt.take() }

// DrainSync reports and clears whether a SYNC frame arrived since the last
// drain.
func (m *Mailbox) DrainSync() bool { return m.sync.Swap(false) }

// DrainLSS returns the pending LSS request frame, if any.
func (m *Mailbox) DrainLSS() ([8]byte, bool) { return m.lss.take() }

// DrainSDO returns the pending SDO request frame, if any.
func (m *Mailbox) DrainSDO() ([8]byte, bool) { return m.sdo.take() }

// DrainRPDO returns the pending buffered value for RPDO slot i, if any.
func (m *Mailbox) DrainRPDO(i int) ([8]byte, bool) {
	if i < 0 || i >= MaxRPDOs {
		return [8]byte{}, false
	}
	return m.rpdos[i].data.take()
}
