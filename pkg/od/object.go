package od

import "sync"

// SubInfo is the per-sub metadata record (spec §3).
type SubInfo struct {
	Size       uint32 // bytes; 0 for unsized domains
	DataType   DataType
	Access     AccessType
	PDOMapping PDOMapping
	Persist    bool
}

// ObjectAccess is the composite-entity contract (spec §4.2). Var, Array,
// Record and CallbackObject all implement it.
type ObjectAccess interface {
	Read(sub uint8, offset uint32, buf []byte) (int, error)
	Write(sub uint8, data []byte) error
	BeginPartial(sub uint8) error
	WritePartial(sub uint8, data []byte) (int, error)
	EndPartial(sub uint8) error
	SubInfo(sub uint8) (SubInfo, error)
	ObjectCode() ObjectCode

	// SetEventFlag/ReadEventFlag/ClearEvents are required only for
	// PDO-mappable objects; the default implementation embedded by Var,
	// Array and Record returns UnsupportedAccess until event banks are
	// attached via WithEventFlags.
	SetEventFlag(sub uint8) error
	ReadEventFlag(sub uint8) (bool, error)
	ClearEvents()

	// CurrentSize returns the length up to the first null byte for
	// null-terminated string types (scanned byte by byte); otherwise it
	// returns the static size.
	CurrentSize(sub uint8) (uint32, error)
}

// ObjectFlagSync is the process-wide event-flag toggle (spec §4.4, §9). A
// single instance is shared by every flag-bearing object in a node.
type ObjectFlagSync struct {
	mu     sync.Mutex
	toggle uint8 // which bank is active for write
	anySet bool
}

// NewObjectFlagSync creates a fresh toggle, starting in epoch 0.
func NewObjectFlagSync() *ObjectFlagSync { return &ObjectFlagSync{} }

func (s *ObjectFlagSync) writeBank() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toggle
}

func (s *ObjectFlagSync) readBank() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return 1 - s.toggle
}

func (s *ObjectFlagSync) markDirty() {
	s.mu.Lock()
	s.anySet = true
	s.mu.Unlock()
}

// Toggle flips the active write bank, returning whether any flag was set
// since the previous call. Should be invoked by the processing loop before
// each batch of event inspections (spec §4.4).
func (s *ObjectFlagSync) Toggle() (wasSet bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasSet = s.anySet
	s.anySet = false
	s.toggle ^= 1
	return wasSet
}

// eventBanks is the double-buffered per-object flag storage (spec §3, §4.4).
type eventBanks struct {
	sync  *ObjectFlagSync
	bankA [FlagBankSize]byte
	bankB [FlagBankSize]byte
}

func newEventBanks(sync *ObjectFlagSync) *eventBanks {
	return &eventBanks{sync: sync}
}

func (e *eventBanks) bank(which uint8) *[FlagBankSize]byte {
	if which == 0 {
		return &e.bankA
	}
	return &e.bankB
}

func (e *eventBanks) set(sub uint8) {
	bank := e.bank(e.sync.writeBank())
	bank[sub>>3] |= 1 << (sub & 0x07)
	e.sync.markDirty()
}

func (e *eventBanks) read(sub uint8) bool {
	bank := e.bank(e.sync.readBank())
	return bank[sub>>3]&(1<<(sub&0x07)) != 0
}

func (e *eventBanks) clear() {
	bank := e.bank(e.sync.readBank())
	*bank = [FlagBankSize]byte{}
}

// subSlot couples a sub-object cell to its static metadata.
type subSlot struct {
	cell SubObjectAccess
	info SubInfo
}

func readSlot(slot subSlot, access AccessType, offset uint32, buf []byte) (int, error) {
	if !access.Readable() {
		return 0, AbortWriteOnly
	}
	return slot.cell.Read(offset, buf)
}

func writeSlot(slot subSlot, access AccessType, data []byte) error {
	if !access.Writable() {
		return AbortReadOnly
	}
	if slot.info.Size != 0 {
		if uint32(len(data)) > slot.info.Size && !allowsShortWrite(slot.info.DataType) {
			return AbortLengthTooHigh
		}
	}
	return slot.cell.Write(data)
}

func allowsShortWrite(dt DataType) bool {
	return dt == VisibleString || dt == UnicodeString
}

func currentSizeOf(slot subSlot) uint32 {
	switch slot.info.DataType {
	case VisibleString, UnicodeString:
		return slot.cell.ReadSize()
	default:
		if slot.info.Size != 0 {
			return slot.info.Size
		}
		return slot.cell.ReadSize()
	}
}

// Var is a single-value object: sub 0 holds the value itself.
type Var struct {
	slot   subSlot
	events *eventBanks
}

// NewVar creates a VAR object around a single cell.
func NewVar(cell SubObjectAccess, info SubInfo) *Var {
	return &Var{slot: subSlot{cell: cell, info: info}}
}

// WithEventFlags attaches the double-buffered flag banks needed for TPDO
// event signalling; only objects referenced by a TPDO mapping need this.
func (v *Var) WithEventFlags(sync *ObjectFlagSync) *Var {
	v.events = newEventBanks(sync)
	return v
}

func (v *Var) Read(sub uint8, offset uint32, buf []byte) (int, error) {
	if sub != 0 {
		return 0, AbortNoSuchSubIndex
	}
	return readSlot(v.slot, v.slot.info.Access, offset, buf)
}

func (v *Var) Write(sub uint8, data []byte) error {
	if sub != 0 {
		return AbortNoSuchSubIndex
	}
	return writeSlot(v.slot, v.slot.info.Access, data)
}

func (v *Var) BeginPartial(sub uint8) error {
	if sub != 0 {
		return AbortNoSuchSubIndex
	}
	return v.slot.cell.BeginPartial()
}

func (v *Var) WritePartial(sub uint8, data []byte) (int, error) {
	if sub != 0 {
		return 0, AbortNoSuchSubIndex
	}
	return v.slot.cell.WritePartial(data)
}

func (v *Var) EndPartial(sub uint8) error {
	if sub != 0 {
		return AbortNoSuchSubIndex
	}
	return v.slot.cell.EndPartial()
}

func (v *Var) SubInfo(sub uint8) (SubInfo, error) {
	if sub != 0 {
		return SubInfo{}, AbortNoSuchSubIndex
	}
	return v.slot.info, nil
}

func (v *Var) ObjectCode() ObjectCode { return ObjectVar }

func (v *Var) SetEventFlag(sub uint8) error {
	if v.events == nil {
		return AbortUnsupportedAccess
	}
	if sub != 0 {
		return AbortNoSuchSubIndex
	}
	v.events.set(0)
	return nil
}

func (v *Var) ReadEventFlag(sub uint8) (bool, error) {
	if v.events == nil {
		return false, AbortUnsupportedAccess
	}
	if sub != 0 {
		return false, AbortNoSuchSubIndex
	}
	return v.events.read(0), nil
}

func (v *Var) ClearEvents() {
	if v.events != nil {
		v.events.clear()
	}
}

func (v *Var) CurrentSize(sub uint8) (uint32, error) {
	if sub != 0 {
		return 0, AbortNoSuchSubIndex
	}
	return currentSizeOf(v.slot), nil
}

// VarCell exposes the backing scalar cell when the caller already knows the
// concrete type (internal wiring helper used by PDO communication objects
// and code-gen output, mirroring the teacher's Entry.Uint32 convenience).
func (v *Var) VarCell() SubObjectAccess { return v.slot.cell }

// arrayOrRecord is shared by Array and Record: both keep sub 0 as a
// read-only byte holding the highest valid sub-index, and dispatch 1..N to
// per-sub cells.
type arrayOrRecord struct {
	highest uint8
	subs    map[uint8]subSlot
	events  *eventBanks
	code    ObjectCode
}

func newArrayOrRecord(code ObjectCode) *arrayOrRecord {
	return &arrayOrRecord{code: code, subs: make(map[uint8]subSlot)}
}

// AddSub registers a sub-object. For Array objects subIndex must be added in
// increasing order starting from 1 (contiguous); for Record objects any
// valid sub-index may be used, including non-contiguous ones.
func (a *arrayOrRecord) AddSub(sub uint8, cell SubObjectAccess, info SubInfo) {
	a.subs[sub] = subSlot{cell: cell, info: info}
	if sub > a.highest {
		a.highest = sub
	}
}

func (a *arrayOrRecord) WithEventFlags(sync *ObjectFlagSync) {
	a.events = newEventBanks(sync)
}

func (a *arrayOrRecord) lookup(sub uint8) (subSlot, error) {
	slot, ok := a.subs[sub]
	if !ok {
		return subSlot{}, AbortNoSuchSubIndex
	}
	return slot, nil
}

func (a *arrayOrRecord) Read(sub uint8, offset uint32, buf []byte) (int, error) {
	if sub == 0 {
		if len(buf) < 1 {
			return 0, nil
		}
		buf[0] = a.highest
		return 1, nil
	}
	slot, err := a.lookup(sub)
	if err != nil {
		return 0, err
	}
	return readSlot(slot, slot.info.Access, offset, buf)
}

func (a *arrayOrRecord) Write(sub uint8, data []byte) error {
	if sub == 0 {
		return AbortReadOnly
	}
	slot, err := a.lookup(sub)
	if err != nil {
		return err
	}
	return writeSlot(slot, slot.info.Access, data)
}

func (a *arrayOrRecord) BeginPartial(sub uint8) error {
	slot, err := a.lookup(sub)
	if err != nil {
		return err
	}
	return slot.cell.BeginPartial()
}

func (a *arrayOrRecord) WritePartial(sub uint8, data []byte) (int, error) {
	slot, err := a.lookup(sub)
	if err != nil {
		return 0, err
	}
	return slot.cell.WritePartial(data)
}

func (a *arrayOrRecord) EndPartial(sub uint8) error {
	slot, err := a.lookup(sub)
	if err != nil {
		return err
	}
	return slot.cell.EndPartial()
}

func (a *arrayOrRecord) SubInfo(sub uint8) (SubInfo, error) {
	if sub == 0 {
		return SubInfo{Size: 1, DataType: UInt8, Access: Ro}, nil
	}
	slot, err := a.lookup(sub)
	if err != nil {
		return SubInfo{}, err
	}
	return slot.info, nil
}

func (a *arrayOrRecord) ObjectCode() ObjectCode { return a.code }

func (a *arrayOrRecord) SetEventFlag(sub uint8) error {
	if a.events == nil {
		return AbortUnsupportedAccess
	}
	if _, err := a.lookup(sub); err != nil {
		return err
	}
	a.events.set(sub)
	return nil
}

func (a *arrayOrRecord) ReadEventFlag(sub uint8) (bool, error) {
	if a.events == nil {
		return false, AbortUnsupportedAccess
	}
	if _, err := a.lookup(sub); err != nil {
		return false, err
	}
	return a.events.read(sub), nil
}

func (a *arrayOrRecord) ClearEvents() {
	if a.events != nil {
		a.events.clear()
	}
}

func (a *arrayOrRecord) CurrentSize(sub uint8) (uint32, error) {
	if sub == 0 {
		return 1, nil
	}
	slot, err := a.lookup(sub)
	if err != nil {
		return 0, err
	}
	return currentSizeOf(slot), nil
}

// Array is a contiguous-subindex object of one data type; sub 0 holds the
// highest populated index.
type Array struct{ *arrayOrRecord }

func NewArray() *Array { return &Array{newArrayOrRecord(ObjectArray)} }

// Record is a heterogeneous object; sub 0 holds the highest valid
// sub-index.
type Record struct{ *arrayOrRecord }

func NewRecord() *Record { return &Record{newArrayOrRecord(ObjectRecord)} }

// CallbackObject is an OD slot populated at runtime by the application.
// Every operation fails with ResourceNotAvailable before registration
// (spec §4.2).
type CallbackObject struct {
	mu   sync.RWMutex
	impl ObjectAccess
}

func NewCallbackObject() *CallbackObject { return &CallbackObject{} }

// Register installs the concrete ObjectAccess implementation.
func (c *CallbackObject) Register(impl ObjectAccess) {
	c.mu.Lock()
	c.impl = impl
	c.mu.Unlock()
}

func (c *CallbackObject) Unregister() {
	c.mu.Lock()
	c.impl = nil
	c.mu.Unlock()
}

func (c *CallbackObject) delegate() (ObjectAccess, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.impl == nil {
		return nil, AbortResourceNotAvailable
	}
	return c.impl, nil
}

func (c *CallbackObject) Read(sub uint8, offset uint32, buf []byte) (int, error) {
	impl, err := c.delegate()
	if err != nil {
		return 0, err
	}
	return impl.Read(sub, offset, buf)
}

func (c *CallbackObject) Write(sub uint8, data []byte) error {
	impl, err := c.delegate()
	if err != nil {
		return err
	}
	return impl.Write(sub, data)
}

func (c *CallbackObject) BeginPartial(sub uint8) error {
	impl, err := c.delegate()
	if err != nil {
		return err
	}
	return impl.BeginPartial(sub)
}

func (c *CallbackObject) WritePartial(sub uint8, data []byte) (int, error) {
	impl, err := c.delegate()
	if err != nil {
		return 0, err
	}
	return impl.WritePartial(sub, data)
}

func (c *CallbackObject) EndPartial(sub uint8) error {
	impl, err := c.delegate()
	if err != nil {
		return err
	}
	return impl.EndPartial(sub)
}

func (c *CallbackObject) SubInfo(sub uint8) (SubInfo, error) {
	impl, err := c.delegate()
	if err != nil {
		return SubInfo{}, err
	}
	return impl.SubInfo(sub)
}

func (c *CallbackObject) ObjectCode() ObjectCode { return ObjectDomain }

func (c *CallbackObject) SetEventFlag(sub uint8) error {
	impl, err := c.delegate()
	if err != nil {
		return err
	}
	return impl.SetEventFlag(sub)
}

func (c *CallbackObject) ReadEventFlag(sub uint8) (bool, error) {
	impl, err := c.delegate()
	if err != nil {
		return false, err
	}
	return impl.ReadEventFlag(sub)
}

func (c *CallbackObject) ClearEvents() {
	impl, err := c.delegate()
	if err == nil {
		impl.ClearEvents()
	}
}

func (c *CallbackObject) CurrentSize(sub uint8) (uint32, error) {
	impl, err := c.delegate()
	if err != nil {
		return 0, err
	}
	return impl.CurrentSize(sub)
}
