// Package node composes the object dictionary, mailbox, SDO server, PDO
// engine, NMT slave and LSS slave into the single per-tick entry point spec
// §4.9 describes, grounded on the teacher's LocalNode.ProcessPDO /
// ProcessSYNC / ProcessMain split in pkg/node/local.go.
package node

import (
	"log/slog"

	canopen "github.com/canofirmware/nodestack"
	"github.com/canofirmware/nodestack/pkg/lss"
	"github.com/canofirmware/nodestack/pkg/mailbox"
	"github.com/canofirmware/nodestack/pkg/nmt"
	"github.com/canofirmware/nodestack/pkg/od"
	"github.com/canofirmware/nodestack/pkg/pdo"
	"github.com/canofirmware/nodestack/pkg/persist"
	"github.com/canofirmware/nodestack/pkg/sdo"
)

// LssResponseId is the fixed CAN identifier LSS slave responses are sent on
// (spec §6); requests arrive on mailbox.LssReqId.
const LssResponseId uint32 = 0x7E4

// Config bundles everything Process needs: the finished object dictionary
// and PDO instances (normally produced by codegen.Build), plus the node
// identity and lifecycle hooks the application wants notified.
type Config struct {
	Dict          *od.ObjectDictionary
	FlagSync      *od.ObjectFlagSync
	Identity1018  *od.Entry
	Heartbeat1017 *od.Entry
	AutoStart     *od.Entry
	SaveTrigger   *persist.SaveTrigger
	TPDOs         []*pdo.TPDO
	RPDOs         []*pdo.RPDO

	// NodeId is the node's address. 0xFF (mailbox.NodeIdUnconfigured)
	// starts the node unconfigured, relying on LSS to assign one.
	NodeId uint8

	// OnSave is invoked when the application should persist the object
	// dictionary, either because OD 0x1010 sub 1 was written with the
	// "save" magic or because LSS "store configuration" was requested.
	OnSave      func()
	OnResetApp  func()
	OnResetComm func()
}

// Node is the runtime composition of one slave node's protocol stack.
type Node struct {
	logger *slog.Logger

	dict        *od.ObjectDictionary
	mailbox     *mailbox.Mailbox
	sdoServer   *sdo.Server
	nmt         *nmt.Slave
	lss         *lss.Slave
	tpdos       []*pdo.TPDO
	rpdos       []*pdo.RPDO
	flagSync    *od.ObjectFlagSync
	saveTrigger *persist.SaveTrigger
	onSave      func()

	nodeId   uint8
	hbToggle bool
}

// New builds a Node ready for Boot then repeated Process calls.
func New(logger *slog.Logger, cfg Config) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("service", "node")

	mb := mailbox.New(logger)
	mb.SetNodeId(cfg.NodeId)
	for i, p := range cfg.RPDOs {
		id, valid, _ := p.CobId()
		mb.ConfigureRPDO(i, id, valid)
	}

	n := &Node{
		logger:      logger,
		dict:        cfg.Dict,
		mailbox:     mb,
		sdoServer:   sdo.NewServer(logger, cfg.Dict, cfg.NodeId),
		nmt:         nmt.New(logger, cfg.NodeId, cfg.Heartbeat1017, cfg.AutoStart, cfg.OnResetApp, cfg.OnResetComm),
		tpdos:       cfg.TPDOs,
		rpdos:       cfg.RPDOs,
		flagSync:    cfg.FlagSync,
		saveTrigger: cfg.SaveTrigger,
		onSave:      cfg.OnSave,
		nodeId:      cfg.NodeId,
	}
	n.lss = lss.New(logger, cfg.Identity1018, n.handleNodeIdChanged, n.handleLSSStore)
	return n
}

func (n *Node) handleNodeIdChanged(id uint8) {
	n.nodeId = id
	n.mailbox.SetNodeId(id)
	n.nmt.SetNodeId(id)
}

func (n *Node) handleLSSStore() {
	if n.onSave != nil {
		n.onSave()
	}
}

func (n *Node) sdoFrame(data [8]byte) canopen.Frame {
	return canopen.Frame{ID: uint32(sdo.ServerServiceId) + uint32(n.nodeId), DLC: 8, Data: data}
}

// Deliver classifies one inbound CAN frame into the mailbox (spec §4.8).
// Call this from the driver's receive path; it never blocks.
func (n *Node) Deliver(frame canopen.Frame) {
	n.mailbox.StoreMessage(frame)
}

// Boot performs the power-on NMT Bootup → PreOperational transition (or
// Bootup → Operational when the 0x5000 auto-start value is non-zero) and
// emits the startup heartbeat (spec §4.9 step 1, §8 S5). Call once before
// the first Process call.
func (n *Node) Boot(send func(canopen.Frame) error) {
	n.nmt.Boot(send)
}

// Process runs one tick of the cooperative processing loop: drain and
// handle NMT and LSS requests, unpack any buffered RPDOs, fire TPDOs due
// on this SYNC or by event, service the SDO server, advance the heartbeat
// producer, and flip the shared event-flag epoch (spec §4.9).
func (n *Node) Process(elapsedUs uint32, send func(canopen.Frame) error) error {
	if data, ok := n.mailbox.DrainNMT(); ok {
		n.nmt.HandleFrame(data, send)
	}

	if data, ok := n.mailbox.DrainLSS(); ok {
		if resp, respond := n.lss.HandleFrame(data); respond {
			if err := send(canopen.Frame{ID: LssResponseId, DLC: 8, Data: resp}); err != nil {
				return err
			}
		}
	}

	for i, rpdo := range n.rpdos {
		id, valid, _ := rpdo.CobId()
		n.mailbox.ConfigureRPDO(i, id, valid)
		if data, ok := n.mailbox.DrainRPDO(i); ok {
			rpdo.Unpack(data, 8)
		}
	}

	syncReceived := n.mailbox.DrainSync()
	for _, tpdo := range n.tpdos {
		fire := false
		if syncReceived {
			fire = tpdo.SyncUpdate()
		}
		if !fire && tpdo.TransmissionType() >= od.TransmissionTypeEventLo {
			fire = tpdo.ReadEvents()
		}
		if fire {
			if err := tpdo.Send(send); err != nil {
				return err
			}
		}
	}

	if frames := n.sdoServer.Tick(elapsedUs); len(frames) > 0 {
		if err := n.emitAll(frames, send); err != nil {
			return err
		}
	}
	if data, ok := n.mailbox.DrainSDO(); ok {
		if err := n.emitAll(n.sdoServer.HandleFrame(data), send); err != nil {
			return err
		}
	}

	n.nmt.Tick(elapsedUs, &n.hbToggle, send)

	n.flagSync.Toggle()

	if n.saveTrigger != nil && n.saveTrigger.Requested() {
		n.saveTrigger.Clear()
		if n.onSave != nil {
			n.onSave()
		}
	}

	return nil
}

func (n *Node) emitAll(frames [][8]byte, send func(canopen.Frame) error) error {
	for _, f := range frames {
		if err := send(n.sdoFrame(f)); err != nil {
			return err
		}
	}
	return nil
}

// Dict exposes the underlying object dictionary, e.g. for persist.Serialize.
func (n *Node) Dict() *od.ObjectDictionary { return n.dict }

// NodeId returns the node's current address, which LSS may change at
// runtime from NodeIdUnconfigured.
func (n *Node) NodeId() uint8 { return n.nodeId }

// State reports the current NMT lifecycle state.
func (n *Node) State() nmt.State { return n.nmt.State() }
