package od

import "fmt"

// Abort is the 32-bit SDO abort code taxonomy from spec §7. Every layer of
// the stack (sub-object cells, composite objects, the SDO server, the PDO
// engine, LSS) reports failures through this single type instead of the
// two-layer ODR/SDOAbortCode split the teacher carries from its C origins —
// one abort taxonomy is enough once EDS/ini compatibility is no longer a
// constraint (see DESIGN.md).
type Abort uint32

const (
	AbortToggleNotAlternated  Abort = 0x05030000
	AbortSdoTimeout           Abort = 0x05040000
	AbortInvalidCommand       Abort = 0x05040001
	AbortInvalidBlockSize     Abort = 0x05040002
	AbortInvalidSeqNumber     Abort = 0x05040003
	AbortCrcError             Abort = 0x05040004
	AbortOutOfMemory          Abort = 0x05040005
	AbortUnsupportedAccess    Abort = 0x06010000
	AbortWriteOnly            Abort = 0x06010001
	AbortReadOnly             Abort = 0x06010002
	AbortNoSuchObject         Abort = 0x06020000
	AbortPDOMappingDisallowed Abort = 0x06040041
	AbortPDOTooLong           Abort = 0x06040042
	AbortIncompatibleParam    Abort = 0x06040043
	AbortHardwareError        Abort = 0x06060000
	AbortDataTypeMismatch     Abort = 0x06070010
	AbortLengthTooHigh        Abort = 0x06070012
	AbortLengthTooLow         Abort = 0x06070013
	AbortNoSuchSubIndex       Abort = 0x06090011
	AbortInvalidValue         Abort = 0x06090030
	AbortValueTooHigh         Abort = 0x06090031
	AbortValueTooLow          Abort = 0x06090032
	AbortGeneral              Abort = 0x08000000
	AbortCannotStore          Abort = 0x08000020
	AbortLocalControl         Abort = 0x08000021
	AbortDeviceState          Abort = 0x08000022
	AbortNoObjectDictionary   Abort = 0x08000023
	AbortNoData               Abort = 0x08000024
	AbortResourceNotAvailable Abort = 0x060A0023
)

var abortDescriptions = map[Abort]string{
	AbortToggleNotAlternated:  "toggle bit not alternated",
	AbortSdoTimeout:           "SDO protocol timed out",
	AbortInvalidCommand:       "client/server command specifier not valid or unknown",
	AbortInvalidBlockSize:     "invalid block size in block mode",
	AbortInvalidSeqNumber:     "invalid sequence number in block mode",
	AbortCrcError:             "CRC error in block mode",
	AbortOutOfMemory:          "out of memory",
	AbortUnsupportedAccess:    "unsupported access to an object",
	AbortWriteOnly:            "attempt to read a write only object",
	AbortReadOnly:             "attempt to write a read only object",
	AbortNoSuchObject:         "object does not exist in the object dictionary",
	AbortPDOMappingDisallowed: "object cannot be mapped to the PDO",
	AbortPDOTooLong:           "number and length of mapped objects exceeds PDO length",
	AbortIncompatibleParam:    "general parameter incompatibility",
	AbortHardwareError:        "access failed due to hardware error",
	AbortDataTypeMismatch:     "data type does not match, length of service parameter does not match",
	AbortLengthTooHigh:        "data type does not match, length of service parameter too high",
	AbortLengthTooLow:         "data type does not match, length of service parameter too low",
	AbortNoSuchSubIndex:       "sub-index does not exist",
	AbortInvalidValue:         "invalid value for parameter",
	AbortValueTooHigh:         "value range of parameter written too high",
	AbortValueTooLow:          "value range of parameter written too low",
	AbortGeneral:              "general error",
	AbortCannotStore:          "data cannot be transferred or stored to the application",
	AbortLocalControl:         "data cannot be transferred because of local control",
	AbortDeviceState:          "data cannot be transferred because of the present device state",
	AbortNoObjectDictionary:   "object dictionary not present or dynamic generation failed",
	AbortNoData:               "no data available",
	AbortResourceNotAvailable: "resource not available",
}

func (a Abort) Error() string {
	desc, ok := abortDescriptions[a]
	if !ok {
		return fmt.Sprintf("od: abort x%08x (unknown)", uint32(a))
	}
	return fmt.Sprintf("od: abort x%08x (%s)", uint32(a), desc)
}
