package od

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
)

// SubObjectAccess is the leaf storage contract (spec §4.1). Every concrete
// cell kind below implements it. Partial reads are mandatory: reading past
// the current size returns zero bytes, never an error.
type SubObjectAccess interface {
	// Read copies up to len(buf) bytes starting at offset into buf and
	// returns the number of bytes copied.
	Read(offset uint32, buf []byte) (int, error)
	// ReadSize returns the current valid byte count.
	ReadSize() uint32
	// Write is an atomic single-shot write.
	Write(data []byte) error
	// BeginPartial/WritePartial/EndPartial implement the three-step
	// streaming-write transaction. Cells that don't back large objects
	// can embed NoPartial to inherit the UnsupportedAccess default.
	BeginPartial() error
	WritePartial(data []byte) (int, error)
	EndPartial() error
}

// NoPartial is embedded by cells that do not support the partial-write
// transaction; all three methods report UnsupportedAccess as the default
// mandates (spec §4.1).
type NoPartial struct{}

func (NoPartial) BeginPartial() error                  { return AbortUnsupportedAccess }
func (NoPartial) WritePartial(data []byte) (int, error) { return 0, AbortUnsupportedAccess }
func (NoPartial) EndPartial() error                     { return AbortUnsupportedAccess }

// ScalarField is an atomic single-word cell backing Boolean, Int{8,16,32},
// UInt{8,16,32} and Real32. The raw bit pattern is stored in an
// atomic.Uint32 regardless of signedness; sign only matters to a reader
// decoding the bytes, not to storage.
type ScalarField struct {
	NoPartial
	width uint8 // 1, 2 or 4
	bits  atomic.Uint32
}

// NewScalarField creates a cell of the given byte width (1, 2 or 4) with an
// initial value already encoded little-endian in init (len(init) == width).
func NewScalarField(width uint8, init []byte) *ScalarField {
	f := &ScalarField{width: width}
	if init != nil {
		f.bits.Store(decodeWidth(width, init))
	}
	return f
}

func decodeWidth(width uint8, data []byte) uint32 {
	switch width {
	case 1:
		return uint32(data[0])
	case 2:
		return uint32(binary.LittleEndian.Uint16(data))
	default:
		return binary.LittleEndian.Uint32(data)
	}
}

func encodeWidth(width uint8, v uint32, out []byte) {
	switch width {
	case 1:
		out[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(out, uint16(v))
	default:
		binary.LittleEndian.PutUint32(out, v)
	}
}

func (f *ScalarField) Read(offset uint32, buf []byte) (int, error) {
	if offset >= uint32(f.width) {
		return 0, nil
	}
	var tmp [4]byte
	encodeWidth(f.width, f.bits.Load(), tmp[:f.width])
	n := copy(buf, tmp[offset:f.width])
	return n, nil
}

func (f *ScalarField) ReadSize() uint32 { return uint32(f.width) }

func (f *ScalarField) Write(data []byte) error {
	if len(data) < int(f.width) {
		return AbortLengthTooLow
	}
	if len(data) > int(f.width) {
		return AbortLengthTooHigh
	}
	f.bits.Store(decodeWidth(f.width, data))
	return nil
}

// Uint32 returns the raw stored bit pattern, useful for PDO packing and
// convenience accessors.
func (f *ScalarField) Uint32() uint32 { return f.bits.Load() }

// SetUint32 stores a raw bit pattern without going through the SDO write
// path (used by internal wiring such as PDO communication objects).
func (f *ScalarField) SetUint32(v uint32) { f.bits.Store(v) }

// ByteField is a fixed-capacity byte buffer cell (OctetString, Domain
// segments, and other non-string fixed buffers). It tracks the logical
// length written so far separately from capacity.
type ByteField struct {
	mu            sync.RWMutex
	buf           []byte
	used          int
	partialOffset int
	partialActive bool
}

// NewByteField allocates a cell with the given capacity.
func NewByteField(capacity int) *ByteField {
	return &ByteField{buf: make([]byte, capacity)}
}

func (f *ByteField) Read(offset uint32, out []byte) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if int(offset) >= f.used {
		return 0, nil
	}
	return copy(out, f.buf[offset:f.used]), nil
}

func (f *ByteField) ReadSize() uint32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return uint32(f.used)
}

func (f *ByteField) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(data) > len(f.buf) {
		return AbortLengthTooHigh
	}
	copy(f.buf, data)
	f.used = len(data)
	return nil
}

func (f *ByteField) BeginPartial() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partialActive = true
	f.partialOffset = 0
	f.used = 0
	return nil
}

func (f *ByteField) WritePartial(data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.partialActive {
		return 0, AbortResourceNotAvailable
	}
	remaining := len(f.buf) - f.partialOffset
	if len(data) > remaining {
		return 0, AbortLengthTooHigh
	}
	copy(f.buf[f.partialOffset:], data)
	f.partialOffset += len(data)
	f.used = f.partialOffset
	return len(data), nil
}

func (f *ByteField) EndPartial() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partialActive = false
	return nil
}

// Capacity returns the fixed buffer size N.
func (f *ByteField) Capacity() int { return len(f.buf) }

// NullTermByteField is like ByteField but its size is the position of the
// first null byte, and short writes are null-terminated (VisibleString /
// UnicodeString semantics).
type NullTermByteField struct {
	mu            sync.RWMutex
	buf           []byte
	written       int
	partialOffset int
	partialActive bool
}

func NewNullTermByteField(capacity int) *NullTermByteField {
	return &NullTermByteField{buf: make([]byte, capacity)}
}

func (f *NullTermByteField) currentSize() int {
	for i := 0; i < f.written && i < len(f.buf); i++ {
		if f.buf[i] == 0 {
			return i
		}
	}
	return f.written
}

func (f *NullTermByteField) Read(offset uint32, out []byte) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	size := f.currentSize()
	if int(offset) >= size {
		return 0, nil
	}
	return copy(out, f.buf[offset:size]), nil
}

func (f *NullTermByteField) ReadSize() uint32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return uint32(f.currentSize())
}

func (f *NullTermByteField) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(data) > len(f.buf) {
		return AbortLengthTooHigh
	}
	n := copy(f.buf, data)
	f.written = n
	if n < len(f.buf) {
		f.buf[n] = 0
		f.written = n + 1
	}
	return nil
}

func (f *NullTermByteField) BeginPartial() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partialActive = true
	f.partialOffset = 0
	f.written = 0
	return nil
}

func (f *NullTermByteField) WritePartial(data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.partialActive {
		return 0, AbortResourceNotAvailable
	}
	remaining := len(f.buf) - f.partialOffset
	if len(data) > remaining {
		return 0, AbortLengthTooHigh
	}
	copy(f.buf[f.partialOffset:], data)
	f.partialOffset += len(data)
	f.written = f.partialOffset
	return len(data), nil
}

func (f *NullTermByteField) EndPartial() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partialActive = false
	if f.partialOffset < len(f.buf) {
		f.buf[f.partialOffset] = 0
		f.written = f.partialOffset + 1
	}
	return nil
}

func (f *NullTermByteField) Capacity() int { return len(f.buf) }

// ConstField stores an inline, immutable byte sequence copied in at
// construction time (Const access, small values such as device type).
type ConstField struct {
	NoPartial
	data []byte
}

func NewConstField(data []byte) *ConstField {
	cp := make([]byte, len(data))
	copy(cp, data)
	return &ConstField{data: cp}
}

func (f *ConstField) Read(offset uint32, buf []byte) (int, error) {
	if int(offset) >= len(f.data) {
		return 0, nil
	}
	return copy(buf, f.data[offset:]), nil
}

func (f *ConstField) ReadSize() uint32 { return uint32(len(f.data)) }

func (f *ConstField) Write(data []byte) error { return AbortReadOnly }

// ConstByteRef is like ConstField but aliases an existing static slice
// rather than copying it (e.g. manufacturer strings baked in at
// code-generation time as Go string literals).
type ConstByteRef struct {
	NoPartial
	data []byte
}

func NewConstByteRef(data []byte) *ConstByteRef { return &ConstByteRef{data: data} }

func (f *ConstByteRef) Read(offset uint32, buf []byte) (int, error) {
	if int(offset) >= len(f.data) {
		return 0, nil
	}
	return copy(buf, f.data[offset:]), nil
}

func (f *ConstByteRef) ReadSize() uint32 { return uint32(len(f.data)) }

func (f *ConstByteRef) Write(data []byte) error { return AbortReadOnly }

// CallbackSubObject is an OD slot whose storage is registered by the
// application at runtime via an atomic slot. Before registration every
// operation fails with ResourceNotAvailable.
type CallbackSubObject struct {
	impl atomic.Pointer[SubObjectAccess]
}

// Register installs the concrete cell backing this slot. Safe to call
// concurrently with bus access.
func (c *CallbackSubObject) Register(impl SubObjectAccess) {
	c.impl.Store(&impl)
}

// Unregister removes any previously installed implementation.
func (c *CallbackSubObject) Unregister() {
	c.impl.Store(nil)
}

func (c *CallbackSubObject) delegate() (SubObjectAccess, error) {
	p := c.impl.Load()
	if p == nil {
		return nil, AbortResourceNotAvailable
	}
	return *p, nil
}

func (c *CallbackSubObject) Read(offset uint32, buf []byte) (int, error) {
	impl, err := c.delegate()
	if err != nil {
		return 0, err
	}
	return impl.Read(offset, buf)
}

func (c *CallbackSubObject) ReadSize() uint32 {
	impl, err := c.delegate()
	if err != nil {
		return 0
	}
	return impl.ReadSize()
}

func (c *CallbackSubObject) Write(data []byte) error {
	impl, err := c.delegate()
	if err != nil {
		return err
	}
	return impl.Write(data)
}

func (c *CallbackSubObject) BeginPartial() error {
	impl, err := c.delegate()
	if err != nil {
		return err
	}
	return impl.BeginPartial()
}

func (c *CallbackSubObject) WritePartial(data []byte) (int, error) {
	impl, err := c.delegate()
	if err != nil {
		return 0, err
	}
	return impl.WritePartial(data)
}

func (c *CallbackSubObject) EndPartial() error {
	impl, err := c.delegate()
	if err != nil {
		return err
	}
	return impl.EndPartial()
}
