package od

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// SizeOf returns the fixed wire size in bytes of dt, or 0 for the
// variable-length string and domain types.
func SizeOf(dt DataType) uint32 {
	switch dt {
	case Boolean, Int8, UInt8:
		return 1
	case Int16, UInt16:
		return 2
	case Int32, UInt32, Real32, TimeOfDay, TimeDifference:
		return 4
	default:
		return 0
	}
}

// EncodeDefault converts a code-gen default value literal (as parsed out of
// a YAML device config) into its little-endian wire encoding for the given
// data type. Mirrors the teacher's EDS string-to-bytes conversion, adapted
// for a typed YAML source instead of untyped ini string values.
func EncodeDefault(dt DataType, value string) ([]byte, error) {
	switch dt {
	case Boolean:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("od: invalid bool default %q: %w", value, err)
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case Int8:
		v, err := strconv.ParseInt(value, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("od: invalid int8 default %q: %w", value, err)
		}
		return []byte{byte(int8(v))}, nil
	case UInt8:
		v, err := strconv.ParseUint(value, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("od: invalid uint8 default %q: %w", value, err)
		}
		return []byte{byte(v)}, nil
	case Int16:
		v, err := strconv.ParseInt(value, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("od: invalid int16 default %q: %w", value, err)
		}
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(int16(v)))
		return buf, nil
	case UInt16:
		v, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("od: invalid uint16 default %q: %w", value, err)
		}
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(v))
		return buf, nil
	case Int32:
		v, err := strconv.ParseInt(value, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("od: invalid int32 default %q: %w", value, err)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(int32(v)))
		return buf, nil
	case UInt32:
		v, err := strconv.ParseUint(value, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("od: invalid uint32 default %q: %w", value, err)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(v))
		return buf, nil
	case Real32:
		v, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return nil, fmt.Errorf("od: invalid real32 default %q: %w", value, err)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
		return buf, nil
	case VisibleString, UnicodeString, OctetString:
		return []byte(value), nil
	default:
		return nil, fmt.Errorf("od: data type %d has no literal default encoding", dt)
	}
}

// DecodeUint reads a little-endian unsigned integer of 1, 2 or 4 bytes.
func DecodeUint(data []byte) uint32 {
	switch len(data) {
	case 1:
		return uint32(data[0])
	case 2:
		return uint32(binary.LittleEndian.Uint16(data))
	case 4:
		return binary.LittleEndian.Uint32(data)
	default:
		return 0
	}
}

// DecodeInt sign-extends a little-endian signed integer of 1, 2 or 4 bytes.
func DecodeInt(data []byte) int32 {
	switch len(data) {
	case 1:
		return int32(int8(data[0]))
	case 2:
		return int32(int16(binary.LittleEndian.Uint16(data)))
	case 4:
		return int32(binary.LittleEndian.Uint32(data))
	default:
		return 0
	}
}

// DecodeReal32 reinterprets a 4-byte little-endian buffer as an IEEE-754
// float32.
func DecodeReal32(data []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(data))
}

// EncodeUint writes v little-endian into a buffer of the given width (1, 2
// or 4 bytes), returning the buffer.
func EncodeUint(width uint8, v uint32) []byte {
	buf := make([]byte, width)
	encodeWidth(width, v, buf)
	return buf
}
