// Package od implements the CANopen Object Dictionary runtime: sub-object
// storage cells, composite object implementations built on top of them, the
// sorted static OD table, and the event-flag substrate used to signal value
// changes to the PDO engine.
package od

// DataType is the CiA 301 data type of a sub-object. The set is closed and
// matches exactly the types this stack supports (no 64-bit integers, no
// CAN-FD-only types).
type DataType uint8

const (
	Boolean DataType = iota + 1
	Int8
	Int16
	Int32
	UInt8
	UInt16
	UInt32
	Real32
	VisibleString
	OctetString
	UnicodeString
	TimeOfDay
	TimeDifference
	Domain
)

// AccessType controls which directions the SDO server may use on a
// sub-object. Only Rw/Wo accept writes originating from the bus.
type AccessType uint8

const (
	Ro AccessType = iota
	Wo
	Rw
	Const
)

func (a AccessType) Readable() bool { return a == Ro || a == Rw || a == Const }
func (a AccessType) Writable() bool { return a == Wo || a == Rw }

// ObjectCode identifies the shape of an OD object.
type ObjectCode uint8

const (
	ObjectNull ObjectCode = iota
	ObjectVar
	ObjectArray
	ObjectRecord
	ObjectDomain
	ObjectDefType
	ObjectDefStruct
)

// PDOMapping records whether and how a sub-object may be mapped into a PDO.
type PDOMapping uint8

const (
	MapNone PDOMapping = iota
	MapTPDO
	MapRPDO
	MapBoth
)

// FlagBankSize is the number of bytes in one event-flag bank, one bit per
// sub-index, covering the full 0..255 sub-index range (matches the
// teacher's OD_FLAGS_PDO_SIZE / FlagsPdoSize constant).
const FlagBankSize = 32

// MaxMappedEntriesPdo is the maximum number of mapping entries in a single
// PDO mapping parameter object (spec §5 resource limits).
const MaxMappedEntriesPdo = 8

// MaxPdoFrameBytes is the fixed CAN data length every protocol frame
// carries (spec §6); the cumulative length of a PDO's active mapping
// entries must never exceed it.
const MaxPdoFrameBytes uint32 = 8

// Standard CANopen object dictionary indices produced by the code generator
// (spec §4.3).
const (
	IndexDeviceType                uint16 = 0x1000
	IndexErrorRegister             uint16 = 0x1001
	IndexManufacturerDeviceName    uint16 = 0x1008
	IndexManufacturerHardwareVer   uint16 = 0x1009
	IndexManufacturerSoftwareVer   uint16 = 0x100A
	IndexStoreParameters           uint16 = 0x1010
	IndexProducerHeartbeatTime     uint16 = 0x1017
	IndexIdentityObject            uint16 = 0x1018
	IndexRPDOCommunicationStart    uint16 = 0x1400
	IndexRPDOMappingStart          uint16 = 0x1600
	IndexTPDOCommunicationStart    uint16 = 0x1800
	IndexTPDOMappingStart          uint16 = 0x1A00
	IndexAutoStart                 uint16 = 0x5000
	IndexBootloaderInfo            uint16 = 0x5500
	IndexBootloaderSectionStart    uint16 = 0x5510
	IndexApplicationStart          uint16 = 0x2000
)

// Sub-indices within PDO communication parameter records.
const (
	SubPdoHighestSub        uint8 = 0
	SubPdoCobId              uint8 = 1
	SubPdoTransmissionType   uint8 = 2
	SubPdoInhibitTime        uint8 = 3
	SubPdoReserved           uint8 = 4
	SubPdoEventTimer         uint8 = 5
)

// PDO transmission type values (spec §4.4).
const (
	TransmissionTypeSyncAcyclic = 0    // next SYNC if event flag was set
	TransmissionTypeSync1       = 1    // every SYNC
	TransmissionTypeSync240     = 240  // every N-th SYNC, N in 1..240
	TransmissionTypeEventLo     = 254  // application/event driven
	TransmissionTypeEventHi     = 255  // application/event driven
)

// COB-ID bit layout shared by all communication-parameter sub 1 values.
const (
	CobIdInvalidBit     uint32 = 1 << 31
	CobIdRtrDisabledBit uint32 = 1 << 30
	CobIdExtendedBit    uint32 = 1 << 29
	CobIdMask           uint32 = 0x1FFFFFFF
	CobIdStandardMask   uint32 = 0x7FF
)

// Save command magic value (ASCII "save", little-endian per §6).
const SaveCommandMagic uint32 = 0x65766173
