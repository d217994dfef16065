package od

import (
	"encoding/binary"
	"sort"
)

// Entry pairs an OD index with the composite object that implements it and
// adds the typed convenience accessors application and code-gen code use
// instead of poking raw bytes through Read/Write.
type Entry struct {
	Index  uint16
	Object ObjectAccess
}

// ReadExactly reads exactly len(buf) bytes from sub, returning
// AbortDataTypeMismatch if fewer bytes are currently available.
func (e *Entry) ReadExactly(sub uint8, buf []byte) error {
	n, err := e.Object.Read(sub, 0, buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return AbortDataTypeMismatch
	}
	return nil
}

// WriteExactly is an alias for Object.Write kept for symmetry with
// ReadExactly in generated accessor code.
func (e *Entry) WriteExactly(sub uint8, data []byte) error {
	return e.Object.Write(sub, data)
}

func (e *Entry) Uint8(sub uint8) (uint8, error) {
	var buf [1]byte
	if err := e.ReadExactly(sub, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (e *Entry) Uint16(sub uint8) (uint16, error) {
	var buf [2]byte
	if err := e.ReadExactly(sub, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func (e *Entry) Uint32(sub uint8) (uint32, error) {
	var buf [4]byte
	if err := e.ReadExactly(sub, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (e *Entry) PutUint8(sub uint8, v uint8) error {
	return e.Object.Write(sub, []byte{v})
}

func (e *Entry) PutUint16(sub uint8, v uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	return e.Object.Write(sub, buf[:])
}

func (e *Entry) PutUint32(sub uint8, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return e.Object.Write(sub, buf[:])
}

// ObjectDictionary is the sorted, binary-searched static table of every
// object in a node (spec §4.3). Entries are immutable once Build()
// returns; only the objects behind them carry mutable state.
type ObjectDictionary struct {
	entries []Entry
}

// Index looks up an entry by its 16-bit OD index, returning nil if absent.
func (d *ObjectDictionary) Index(idx uint16) *Entry {
	i := sort.Search(len(d.entries), func(i int) bool {
		return d.entries[i].Index >= idx
	})
	if i < len(d.entries) && d.entries[i].Index == idx {
		return &d.entries[i]
	}
	return nil
}

// Entries returns the full sorted entry slice, for iteration (e.g.
// persistence dumps).
func (d *ObjectDictionary) Entries() []Entry { return d.entries }

// Builder accumulates entries and produces a sorted ObjectDictionary.
// Indices must be unique; Build panics on a duplicate since the table is
// assembled once at process start from generated code, never at runtime.
type Builder struct {
	entries []Entry
}

func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) Add(index uint16, obj ObjectAccess) *Builder {
	b.entries = append(b.entries, Entry{Index: index, Object: obj})
	return b
}

func (b *Builder) AddVar(index uint16, v *Var) *Builder  { return b.Add(index, v) }
func (b *Builder) AddArray(index uint16, a *Array) *Builder { return b.Add(index, a) }
func (b *Builder) AddRecord(index uint16, r *Record) *Builder { return b.Add(index, r) }
func (b *Builder) AddCallback(index uint16, c *CallbackObject) *Builder { return b.Add(index, c) }

// Build sorts the accumulated entries by index and returns the finished
// dictionary. Panics on a duplicate index.
func (b *Builder) Build() *ObjectDictionary {
	sort.Slice(b.entries, func(i, j int) bool { return b.entries[i].Index < b.entries[j].Index })
	for i := 1; i < len(b.entries); i++ {
		if b.entries[i].Index == b.entries[i-1].Index {
			panic("od: duplicate object index in builder")
		}
	}
	return &ObjectDictionary{entries: b.entries}
}
