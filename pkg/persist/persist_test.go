package persist

import (
	"bytes"
	"testing"

	"github.com/canofirmware/nodestack/pkg/od"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDict() *od.ObjectDictionary {
	persisted := od.NewVar(od.NewScalarField(4, []byte{0, 0, 0, 0}), od.SubInfo{Size: 4, DataType: od.UInt32, Access: od.Rw, Persist: true})
	transient := od.NewVar(od.NewScalarField(2, []byte{0, 0}), od.SubInfo{Size: 2, DataType: od.UInt16, Access: od.Rw, Persist: false})

	rec := od.NewRecord()
	rec.AddSub(0, od.NewConstField([]byte{2}), od.SubInfo{Size: 1, DataType: od.UInt8, Access: od.Const})
	rec.AddSub(1, od.NewScalarField(1, []byte{0}), od.SubInfo{Size: 1, DataType: od.UInt8, Access: od.Rw, Persist: true})
	rec.AddSub(2, od.NewScalarField(1, []byte{0}), od.SubInfo{Size: 1, DataType: od.UInt8, Access: od.Rw, Persist: false})

	return od.NewBuilder().
		AddVar(0x2000, persisted).
		AddVar(0x2001, transient).
		AddRecord(0x2002, rec).
		Build()
}

func TestSerializeRestoreRoundTrip(t *testing.T) {
	dict := buildDict()
	require.NoError(t, dict.Index(0x2000).PutUint32(0, 0xCAFEBABE))
	require.NoError(t, dict.Index(0x2001).PutUint16(0, 0x1234))
	require.NoError(t, dict.Index(0x2002).PutUint8(1, 77))
	require.NoError(t, dict.Index(0x2002).PutUint8(2, 99))

	var buf bytes.Buffer
	cfg := NodeConfig{NodeId: 5, BaudTable: 0, BaudIndex: 3}
	require.NoError(t, Serialize(&buf, cfg, dict))

	fresh := buildDict()
	gotCfg, err := Restore(bytes.NewReader(buf.Bytes()), fresh)
	require.NoError(t, err)
	assert.Equal(t, cfg, gotCfg)

	v, err := fresh.Index(0x2000).Uint32(0)
	require.NoError(t, err)
	assert.EqualValues(t, 0xCAFEBABE, v)

	// non-persisted sub-object must not be carried over
	v16, err := fresh.Index(0x2001).Uint16(0)
	require.NoError(t, err)
	assert.EqualValues(t, 0, v16)

	r1, err := fresh.Index(0x2002).Uint8(1)
	require.NoError(t, err)
	assert.EqualValues(t, 77, r1)

	r2, err := fresh.Index(0x2002).Uint8(2)
	require.NoError(t, err)
	assert.EqualValues(t, 0, r2)
}

func TestRestoreStopsOnShortRecord(t *testing.T) {
	dict := buildDict()
	cfg, err := Restore(bytes.NewReader([]byte{0x01}), dict)
	require.NoError(t, err)
	assert.Equal(t, NodeConfig{}, cfg)
}
