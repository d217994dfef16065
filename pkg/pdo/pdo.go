// Package pdo implements the process-data-object engine (spec §4.4): TPDO
// transmission driven by SYNC and event flags, RPDO reception and unpacking,
// and the mapping-parameter validation shared by both directions.
package pdo

import (
	"encoding/binary"
	"log/slog"
	"sync"

	canopen "github.com/canofirmware/nodestack"
	"github.com/canofirmware/nodestack/pkg/od"
)

// MappingEntry is a single resolved PDO mapping, holding a direct reference
// to the OD entry it packs or unpacks for O(1) dispatch (spec §4.4).
type MappingEntry struct {
	Entry       *od.Entry
	Sub         uint8
	LengthBytes uint8
}

// Pdo is the shared state behind one TPDO or one RPDO record.
type Pdo struct {
	logger *slog.Logger
	dict   *od.ObjectDictionary

	commEntry *od.Entry // 0x14xx / 0x18xx communication parameter record
	mapEntry  *od.Entry // 0x16xx / 0x1Axx mapping parameter record

	isRPDO      bool
	syncCounter uint8

	mu       sync.Mutex
	mappings [od.MaxMappedEntriesPdo]MappingEntry
}

func (p *Pdo) rawCobId() uint32 {
	v, err := p.commEntry.Uint32(od.SubPdoCobId)
	if err != nil {
		return od.CobIdInvalidBit
	}
	return v
}

// CobId returns the configured CAN identifier, whether the PDO is valid
// (enabled), and whether RTR is disabled for it.
func (p *Pdo) CobId() (id uint32, valid bool, rtrDisabled bool) {
	raw := p.rawCobId()
	valid = raw&od.CobIdInvalidBit == 0
	rtrDisabled = raw&od.CobIdRtrDisabledBit != 0
	id = raw & od.CobIdStandardMask
	return id, valid, rtrDisabled
}

// TransmissionType reads the communication record's transmission-type
// sub-object.
func (p *Pdo) TransmissionType() uint8 {
	v, err := p.commEntry.Uint8(od.SubPdoTransmissionType)
	if err != nil {
		return od.TransmissionTypeEventHi
	}
	return v
}

// ActiveMappings returns the currently configured mapping entries, in
// mapping order, according to the mapping record's sub 0 count.
func (p *Pdo) ActiveMappings() []MappingEntry {
	count, err := p.mapEntry.Uint8(0)
	if err != nil || count == 0 {
		return nil
	}
	if count > od.MaxMappedEntriesPdo {
		count = od.MaxMappedEntriesPdo
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]MappingEntry, count)
	copy(out, p.mappings[:count])
	return out
}

// MappedLength returns the total byte length of the active mapping.
func (p *Pdo) MappedLength() uint32 {
	var total uint32
	for _, m := range p.ActiveMappings() {
		total += uint32(m.LengthBytes)
	}
	return total
}

// validateMapping implements the mapping-write validation from spec §4.4 and
// §3 ("rebuilding a mapping at runtime revalidates reference, size, and
// pdo-mapping permission"): parse, look up the object, fetch its sub-info,
// check the pdo_mapping permission against the direction being configured,
// then check the requested length against the sub-object's size.
func validateMapping(dict *od.ObjectDictionary, raw uint32, forRPDO bool) (MappingEntry, od.Abort) {
	index := uint16(raw >> 16)
	sub := uint8(raw >> 8)
	lengthBits := uint8(raw)

	if lengthBits%8 != 0 {
		return MappingEntry{}, od.AbortIncompatibleParam
	}
	entry := dict.Index(index)
	if entry == nil {
		return MappingEntry{}, od.AbortNoSuchObject
	}
	info, err := entry.Object.SubInfo(sub)
	if err != nil {
		return MappingEntry{}, od.AbortNoSuchSubIndex
	}
	allowed := info.PDOMapping == od.MapBoth ||
		(forRPDO && info.PDOMapping == od.MapRPDO) ||
		(!forRPDO && info.PDOMapping == od.MapTPDO)
	if !allowed {
		return MappingEntry{}, od.AbortPDOMappingDisallowed
	}
	lengthBytes := lengthBits / 8
	if info.Size != 0 && uint32(lengthBytes) > info.Size {
		return MappingEntry{}, od.AbortIncompatibleParam
	}
	return MappingEntry{Entry: entry, Sub: sub, LengthBytes: lengthBytes}, 0
}

// activeMappedLength sums the mapping lengths of the first count slots,
// substituting replacementSlot's length with replacement if it falls
// within that range. Callers hold pdo.mu.
func activeMappedLength(pdo *Pdo, count int, replacementSlot int, replacement uint8) uint32 {
	var total uint32
	for i := 0; i < count; i++ {
		if i == replacementSlot {
			total += uint32(replacement)
		} else {
			total += uint32(pdo.mappings[i].LengthBytes)
		}
	}
	return total
}

// mappingEntryCell is the Rw sub-object backing one slot of a mapping
// parameter record (spec §4.4 step 4): writes are validated eagerly and
// resolved into a direct OD reference before being accepted.
type mappingEntryCell struct {
	od.NoPartial
	pdo  *Pdo
	dict *od.ObjectDictionary
	slot int
	raw  uint32
}

func (c *mappingEntryCell) Read(offset uint32, buf []byte) (int, error) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], c.raw)
	if offset >= 4 {
		return 0, nil
	}
	return copy(buf, tmp[offset:]), nil
}

func (c *mappingEntryCell) ReadSize() uint32 { return 4 }

func (c *mappingEntryCell) Write(data []byte) error {
	if len(data) != 4 {
		return od.AbortLengthTooHigh
	}
	raw := binary.LittleEndian.Uint32(data)
	if raw == 0 {
		c.pdo.mu.Lock()
		c.pdo.mappings[c.slot] = MappingEntry{}
		c.pdo.mu.Unlock()
		c.raw = 0
		return nil
	}
	mapping, abort := validateMapping(c.dict, raw, c.pdo.isRPDO)
	if abort != 0 {
		return abort
	}

	count, _ := c.pdo.mapEntry.Uint8(0)
	c.pdo.mu.Lock()
	defer c.pdo.mu.Unlock()
	// Only slots within the currently active count contribute to the
	// frame this PDO packs; a slot beyond it is re-checked when the count
	// is raised to include it (mappingCountCell.Write).
	if c.slot < int(count) {
		if total := activeMappedLength(c.pdo, int(count), c.slot, mapping.LengthBytes); total > od.MaxPdoFrameBytes {
			return od.AbortPDOTooLong
		}
	}
	c.pdo.mappings[c.slot] = mapping
	c.raw = raw
	return nil
}

// mappingCountCell backs sub 0 of a mapping parameter record: a plain u8
// count, except that raising it must re-validate the cumulative mapped
// length of every slot it newly activates (spec §4.4, §7 AbortPDOTooLong).
// A bus master writing several individually-valid mapping entries and only
// exceeding the 8-byte frame budget once the count makes them all active
// must be rejected here, since each entry's own write already passed.
type mappingCountCell struct {
	*od.ScalarField
	pdo *Pdo
}

func newMappingCountCell(pdo *Pdo) *mappingCountCell {
	return &mappingCountCell{ScalarField: od.NewScalarField(1, []byte{0}), pdo: pdo}
}

func (c *mappingCountCell) Write(data []byte) error {
	if len(data) < 1 {
		return od.AbortLengthTooLow
	}
	if len(data) > 1 {
		return od.AbortLengthTooHigh
	}
	count := data[0]
	if count > od.MaxMappedEntriesPdo {
		return od.AbortInvalidValue
	}
	c.pdo.mu.Lock()
	total := activeMappedLength(c.pdo, int(count), -1, 0)
	c.pdo.mu.Unlock()
	if total > od.MaxPdoFrameBytes {
		return od.AbortPDOTooLong
	}
	return c.ScalarField.Write(data)
}

// NewMappingRecord builds the 0x16xx/0x1Axx mapping parameter record for
// pdo, with sub 0 the live count and subs 1..MaxMappedEntriesPdo backed by
// mappingEntryCell.
func NewMappingRecord(dict *od.ObjectDictionary, pdo *Pdo) *od.Record {
	r := od.NewRecord()
	r.AddSub(0, newMappingCountCell(pdo), od.SubInfo{Size: 1, DataType: od.UInt8, Access: od.Rw})
	for i := 1; i <= od.MaxMappedEntriesPdo; i++ {
		cell := &mappingEntryCell{pdo: pdo, dict: dict, slot: i - 1}
		r.AddSub(uint8(i), cell, od.SubInfo{Size: 4, DataType: od.UInt32, Access: od.Rw})
	}
	return r
}

// NewCommunicationRecord builds the 0x14xx/0x18xx communication parameter
// record: sub 1 COB-ID, sub 2 transmission type.
func NewCommunicationRecord(defaultCobId uint32, defaultTransmissionType uint8) *od.Record {
	r := od.NewRecord()
	r.AddSub(0, od.NewConstField([]byte{2}), od.SubInfo{Size: 1, DataType: od.UInt8, Access: od.Const})
	var cobBuf [4]byte
	binary.LittleEndian.PutUint32(cobBuf[:], defaultCobId)
	r.AddSub(od.SubPdoCobId, od.NewScalarField(4, cobBuf[:]), od.SubInfo{Size: 4, DataType: od.UInt32, Access: od.Rw})
	r.AddSub(od.SubPdoTransmissionType, od.NewScalarField(1, []byte{defaultTransmissionType}), od.SubInfo{Size: 1, DataType: od.UInt8, Access: od.Rw})
	return r
}

// New builds the shared Pdo state around already-constructed communication
// and mapping OD entries.
func New(logger *slog.Logger, dict *od.ObjectDictionary, commEntry, mapEntry *od.Entry, isRPDO bool) *Pdo {
	if logger == nil {
		logger = slog.Default()
	}
	role := "TPDO"
	if isRPDO {
		role = "RPDO"
	}
	return &Pdo{
		logger:    logger.With("service", role),
		dict:      dict,
		commEntry: commEntry,
		mapEntry:  mapEntry,
		isRPDO:    isRPDO,
	}
}

// TPDO wraps Pdo with the transmit-side rules.
type TPDO struct{ *Pdo }

// NewTPDO wraps pdo as a TPDO.
func NewTPDO(pdo *Pdo) *TPDO { return &TPDO{pdo} }

// SyncUpdate advances the sync counter on a received SYNC and reports
// whether this SYNC should trigger a send, per the transmission-type table
// in spec §4.4. Acyclic (0) and per-N (1..240) types are sync-driven;
// event-driven types (254/255) never fire from SyncUpdate.
func (t *TPDO) SyncUpdate() bool {
	transType := t.TransmissionType()
	if transType > od.TransmissionTypeSync240 {
		return false
	}
	if transType == od.TransmissionTypeSyncAcyclic {
		return t.ReadEvents()
	}
	t.syncCounter++
	if t.syncCounter >= transType {
		t.syncCounter = 0
		return true
	}
	return false
}

// ReadEvents reports whether any mapped object has a pending PDO event
// flag set since the last clear.
func (t *TPDO) ReadEvents() bool {
	for _, m := range t.ActiveMappings() {
		set, err := m.Entry.Object.ReadEventFlag(m.Sub)
		if err == nil && set {
			return true
		}
	}
	return false
}

// ClearEvents clears the event banks of every mapped object.
func (t *TPDO) ClearEvents() {
	for _, m := range t.ActiveMappings() {
		m.Entry.Object.ClearEvents()
	}
}

// Pack builds the frame payload by reading mapped bytes in mapping order.
// Mapping writes already reject anything whose cumulative length would
// overrun the frame (AbortPDOTooLong); offset is still clamped to len(data)
// defensively so a bug anywhere upstream degrades to a truncated frame
// instead of a panic, per the §7 "invalid bus traffic cannot crash the
// node" invariant.
func (t *TPDO) Pack() ([8]byte, uint8, error) {
	var data [8]byte
	offset := 0
	for _, m := range t.ActiveMappings() {
		end := offset + int(m.LengthBytes)
		if end > len(data) {
			end = len(data)
		}
		if end <= offset {
			break
		}
		n, err := m.Entry.Object.Read(m.Sub, 0, data[offset:end])
		if err != nil {
			return data, 0, err
		}
		offset += n
	}
	return data, uint8(offset), nil
}

// Send packs and emits the TPDO's current mapped values via send if the
// PDO is valid, then clears consumed event flags.
func (t *TPDO) Send(send func(canopen.Frame) error) error {
	id, valid, _ := t.CobId()
	if !valid {
		return nil
	}
	data, length, err := t.Pack()
	if err != nil {
		t.logger.Warn("pack failed", "cobId", id, "error", err)
		return err
	}
	frame := canopen.Frame{ID: id, DLC: length, Data: data}
	if err := send(frame); err != nil {
		return err
	}
	t.ClearEvents()
	return nil
}

// RPDO wraps Pdo with the receive-side rules.
type RPDO struct{ *Pdo }

// NewRPDO wraps pdo as an RPDO.
func NewRPDO(pdo *Pdo) *RPDO { return &RPDO{pdo} }

// Unpack writes the buffered frame payload into mapped sub-objects in
// mapping order, silently truncating if the mapped length exceeds the
// payload (spec §4.4).
func (r *RPDO) Unpack(data [8]byte, dlc uint8) {
	offset := 0
	for _, m := range r.ActiveMappings() {
		end := offset + int(m.LengthBytes)
		if end > int(dlc) {
			return
		}
		if err := m.Entry.Object.Write(m.Sub, data[offset:end]); err != nil {
			r.logger.Warn("rpdo write failed", "index", m.Entry.Index, "sub", m.Sub, "error", err)
		}
		offset = end
	}
}
