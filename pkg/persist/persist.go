// Package persist implements the length-prefixed persistence byte stream
// (spec §4.10, §6): serialising every sub-object marked persist=true plus
// the node's own configuration, and restoring them on the next boot.
package persist

import (
	"encoding/binary"
	"errors"
	"io"
	"sync/atomic"

	"github.com/canofirmware/nodestack/pkg/od"
)

const (
	nodeTypeConfig = 0
	nodeTypeObject = 1
)

// NodeConfig is the stack-level configuration persisted alongside
// application objects (spec §4.10).
type NodeConfig struct {
	NodeId    uint8
	BaudTable uint8
	BaudIndex uint8
}

// ErrShortRecord names the case of a record whose declared length runs
// past the end of the stream. Restore treats that case as the end of the
// stream and does not return this error.
var ErrShortRecord = errors.New("persist: truncated record")

func writeRecord(w io.Writer, payload []byte) error {
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// Serialize streams cfg and every persist=true sub-object in dict to w, in
// OD index order (spec §4.10 "Persistence byte stream").
func Serialize(w io.Writer, cfg NodeConfig, dict *od.ObjectDictionary) error {
	if err := writeRecord(w, []byte{nodeTypeConfig, cfg.NodeId, cfg.BaudTable, cfg.BaudIndex}); err != nil {
		return err
	}

	for _, entry := range dict.Entries() {
		subs := persistedSubs(entry)
		for _, sub := range subs {
			size, err := entry.Object.CurrentSize(sub)
			if err != nil {
				continue
			}
			data := make([]byte, size)
			if _, err := entry.Object.Read(sub, 0, data); err != nil {
				continue
			}
			payload := make([]byte, 0, 4+len(data))
			payload = append(payload, nodeTypeObject)
			var idxBuf [2]byte
			binary.LittleEndian.PutUint16(idxBuf[:], entry.Index)
			payload = append(payload, idxBuf[:]...)
			payload = append(payload, sub)
			payload = append(payload, data...)
			if err := writeRecord(w, payload); err != nil {
				return err
			}
		}
	}
	return nil
}

// persistedSubs returns the sub-indices of entry whose SubInfo.Persist is
// set. A plain Var's only addressable sub is 0; Array/Record objects
// report their live count in sub 0, which is never itself persisted.
func persistedSubs(entry od.Entry) []uint8 {
	var subs []uint8
	if entry.Object.ObjectCode() == od.ObjectVar {
		if info, err := entry.Object.SubInfo(0); err == nil && info.Persist {
			subs = append(subs, 0)
		}
		return subs
	}

	maxSub, err := entry.Uint8(0)
	if err != nil {
		return nil
	}
	for sub := uint8(1); sub <= maxSub; sub++ {
		info, err := entry.Object.SubInfo(sub)
		if err != nil {
			continue
		}
		if info.Persist {
			subs = append(subs, sub)
		}
	}
	return subs
}

// Restore reads a stream written by Serialize, writing ObjectValue records
// back into dict and returning the decoded NodeConfig. It stops without an
// error at a zero-length or short record, matching the spec's "readers stop
// on a short read" rule. Records with a payload under 4 bytes, an unknown
// type or an index absent from dict are skipped and reading continues. An
// explicit error is returned only for an I/O failure reading the stream
// itself.
func Restore(r io.Reader, dict *od.ObjectDictionary) (NodeConfig, error) {
	var cfg NodeConfig
	var lenBuf [2]byte
	for {
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return cfg, nil
			}
			return cfg, err
		}
		length := binary.LittleEndian.Uint16(lenBuf[:])
		if length < 1 {
			return cfg, nil
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return cfg, nil
		}

		switch payload[0] {
		case nodeTypeConfig:
			if len(payload) < 4 {
				continue
			}
			cfg = NodeConfig{NodeId: payload[1], BaudTable: payload[2], BaudIndex: payload[3]}
		case nodeTypeObject:
			if len(payload) < 4 {
				continue
			}
			index := binary.LittleEndian.Uint16(payload[1:3])
			sub := payload[3]
			data := payload[4:]
			entry := dict.Index(index)
			if entry == nil {
				continue
			}
			_ = entry.Object.Write(sub, data)
		}
	}
}

// SaveTrigger is raised by a write of the "save" magic to OD 0x1010 sub 1
// and polled by the node's process loop, which clears it and calls the
// application's OnSave hook (spec §4.10, §6). The loop does not call
// Serialize itself; the hook receives no writer.
type SaveTrigger struct {
	requested atomic.Bool
}

// Requested reports whether a save has been asked for since the last Clear.
func (t *SaveTrigger) Requested() bool { return t.requested.Load() }

// Clear resets the flag once the pending save has been handled.
func (t *SaveTrigger) Clear() { t.requested.Store(false) }

// saveCommandCell backs sub 1 of 0x1010: reads report which save features
// are supported (bit 0, "save on command"), writes accept only the ASCII
// "save" magic and arm the trigger.
type saveCommandCell struct {
	od.NoPartial
	supported bool
	trigger   *SaveTrigger
}

func (c *saveCommandCell) Read(offset uint32, buf []byte) (int, error) {
	var v uint32
	if c.supported {
		v = 1
	}
	tmp := od.EncodeUint(4, v)
	if offset >= 4 {
		return 0, nil
	}
	return copy(buf, tmp[offset:]), nil
}

func (c *saveCommandCell) ReadSize() uint32 { return 4 }

func (c *saveCommandCell) Write(data []byte) error {
	if !c.supported {
		return od.AbortUnsupportedAccess
	}
	if len(data) != 4 || od.DecodeUint(data) != od.SaveCommandMagic {
		return od.AbortInvalidValue
	}
	c.trigger.requested.Store(true)
	return nil
}

// NewSaveCommandObject builds OD 0x1010: sub 0 the sub-count, sub 1 the
// save-on-command trigger. When supported is false, sub 1 reports no
// supported features and rejects every write with UnsupportedAccess.
func NewSaveCommandObject(supported bool) (*od.Array, *SaveTrigger) {
	trigger := &SaveTrigger{}
	a := od.NewArray()
	a.AddSub(0, od.NewConstField([]byte{1}), od.SubInfo{Size: 1, DataType: od.UInt8, Access: od.Ro})
	a.AddSub(1, &saveCommandCell{supported: supported, trigger: trigger}, od.SubInfo{Size: 4, DataType: od.UInt32, Access: od.Rw})
	return a, trigger
}
