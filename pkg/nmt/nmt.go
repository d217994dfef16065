// Package nmt implements the network-management slave state machine (spec
// §4.6): lifecycle transitions driven by NMT command frames, and a
// heartbeat producer timed off the 0x1017 interval.
package nmt

import (
	"log/slog"

	canopen "github.com/canofirmware/nodestack"
	"github.com/canofirmware/nodestack/pkg/od"
)

// State is one of the four NMT slave lifecycle states.
type State uint8

const (
	Bootup State = iota
	Stopped
	Operational
	PreOperational
)

var stateNames = map[State]string{
	Bootup:         "BOOTUP",
	Stopped:        "STOPPED",
	Operational:    "OPERATIONAL",
	PreOperational: "PRE-OPERATIONAL",
}

func (s State) String() string { return stateNames[s] }

// Command is an NMT command byte received on the NMT slot.
type Command uint8

const (
	CommandStart        Command = 1
	CommandStop         Command = 2
	CommandEnterPreOp   Command = 128
	CommandResetApp     Command = 129
	CommandResetComm    Command = 130
)

// NodeIdUnknown mirrors the LSS unconfigured sentinel; commands are ignored
// while the node ID is this value (spec §4.6).
const NodeIdUnknown uint8 = 0xFF

// Slave is the NMT slave state machine for one node.
type Slave struct {
	logger *slog.Logger
	nodeId uint8

	state State

	entry1017       *od.Entry
	entryAutoStart  *od.Entry
	hbElapsedUs     uint32
	onResetApp      func()
	onResetComm     func()
}

// New builds an NMT slave bound to the 0x1017 heartbeat-interval entry and
// the 0x5000 auto-start entry (spec §4.3: "when non-zero at power-on, node
// boots directly to Operational"). entryAutoStart may be nil, in which case
// Boot always goes to PreOperational. onResetApp and onResetComm may be nil.
func New(logger *slog.Logger, nodeId uint8, entry1017, entryAutoStart *od.Entry, onResetApp, onResetComm func()) *Slave {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slave{
		logger:         logger.With("service", "nmt"),
		nodeId:         nodeId,
		state:          Bootup,
		entry1017:      entry1017,
		entryAutoStart: entryAutoStart,
		onResetApp:     onResetApp,
		onResetComm:    onResetComm,
	}
}

// SetNodeId updates the node ID used to filter commands and build the
// heartbeat frame's CAN identifier, called by LSS on configuration.
func (s *Slave) SetNodeId(id uint8) { s.nodeId = id }

// State reports the current NMT state.
func (s *Slave) State() State { return s.state }

func (s *Slave) heartbeatIntervalUs() uint32 {
	if s.entry1017 == nil {
		return 0
	}
	ms, err := s.entry1017.Uint16(0)
	if err != nil {
		return 0
	}
	return uint32(ms) * 1000
}

func (s *Slave) heartbeatFrame(toggle bool) canopen.Frame {
	var data [8]byte
	data[0] = byte(s.state)
	if toggle {
		data[0] |= 0x80
	}
	return canopen.Frame{ID: 0x700 + uint32(s.nodeId), DLC: 1, Data: data}
}

func (s *Slave) setState(next State, send func(canopen.Frame) error) {
	s.state = next
	frame := s.heartbeatFrame(false)
	if err := send(frame); err != nil {
		s.logger.Warn("heartbeat send failed", "error", err)
	}
}

func (s *Slave) applyCommand(cmd Command, send func(canopen.Frame) error) {
	switch cmd {
	case CommandStart:
		s.setState(Operational, send)
	case CommandStop:
		s.setState(Stopped, send)
	case CommandEnterPreOp:
		s.setState(PreOperational, send)
	case CommandResetApp:
		if s.onResetApp != nil {
			s.onResetApp()
		}
		s.setState(PreOperational, send)
	case CommandResetComm:
		if s.onResetComm != nil {
			s.onResetComm()
		}
		s.setState(PreOperational, send)
	default:
		s.logger.Debug("unknown nmt command", "command", cmd)
	}
}

// HandleFrame processes one drained NMT slot payload (spec §4.6): byte 0 is
// the command, byte 1 the target node ID (0 broadcasts). Commands for other
// node IDs, or received before the node ID is known, are ignored.
func (s *Slave) HandleFrame(data [8]byte, send func(canopen.Frame) error) {
	if s.nodeId == NodeIdUnknown {
		return
	}
	target := data[1]
	if target != 0 && target != s.nodeId {
		return
	}
	s.applyCommand(Command(data[0]), send)
}

// autoStart reports whether 0x5000 is non-zero, meaning the node should
// boot directly to Operational instead of PreOperational (spec §4.3).
func (s *Slave) autoStart() bool {
	if s.entryAutoStart == nil {
		return false
	}
	v, err := s.entryAutoStart.Uint8(0)
	return err == nil && v != 0
}

// Boot performs the power-on Bootup → PreOperational transition (or,
// per 0x5000 auto-start, Bootup → Operational directly) and emits the
// startup heartbeat (spec §4.9 step 1, §8 S5). Call once, before the first
// process() tick.
func (s *Slave) Boot(send func(canopen.Frame) error) {
	target := PreOperational
	if s.autoStart() {
		target = Operational
	}
	s.setState(target, send)
}

// Tick advances the periodic heartbeat timer by elapsedUs and emits a
// heartbeat frame when the 0x1017 interval elapses. An interval of 0
// disables the producer. toggle alternates on every emitted heartbeat,
// carried in the payload's high bit alongside the state (spec §4.6).
func (s *Slave) Tick(elapsedUs uint32, toggle *bool, send func(canopen.Frame) error) {
	interval := s.heartbeatIntervalUs()
	if interval == 0 {
		s.hbElapsedUs = 0
		return
	}
	s.hbElapsedUs += elapsedUs
	if s.hbElapsedUs < interval {
		return
	}
	s.hbElapsedUs = 0
	*toggle = !*toggle
	if err := send(s.heartbeatFrame(*toggle)); err != nil {
		s.logger.Warn("heartbeat send failed", "error", err)
	}
}
