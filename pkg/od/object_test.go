package od

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarReadWrite(t *testing.T) {
	cell := NewScalarField(4, []byte{0, 0, 0, 0})
	v := NewVar(cell, SubInfo{Size: 4, DataType: UInt32, Access: Rw})

	require.NoError(t, v.Write(0, []byte{1, 0, 0, 0}))
	buf := make([]byte, 4)
	n, err := v.Read(0, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 0, 0}, buf[:n])

	_, err = v.Read(1, 0, buf)
	assert.Equal(t, AbortNoSuchSubIndex, err)
}

func TestVarReadOnlyRejectsWrite(t *testing.T) {
	cell := NewConstField([]byte{0x42})
	v := NewVar(cell, SubInfo{Size: 1, DataType: UInt8, Access: Ro})
	assert.Equal(t, AbortReadOnly, v.Write(0, []byte{1}))
}

func TestVarEventFlagsRequireAttachment(t *testing.T) {
	v := NewVar(NewScalarField(1, []byte{0}), SubInfo{Size: 1, DataType: UInt8, Access: Rw})
	assert.Equal(t, AbortUnsupportedAccess, v.SetEventFlag(0))

	sync := NewObjectFlagSync()
	v.WithEventFlags(sync)
	require.NoError(t, v.SetEventFlag(0))
}

func TestEventFlagToggleSemantics(t *testing.T) {
	sync := NewObjectFlagSync()
	v := NewVar(NewScalarField(1, []byte{0}), SubInfo{Size: 1, DataType: UInt8, Access: Rw}).WithEventFlags(sync)

	set, err := v.ReadEventFlag(0)
	require.NoError(t, err)
	assert.False(t, set)

	require.NoError(t, v.SetEventFlag(0))
	// The flag lands in the write bank; it isn't visible to readers of the
	// read bank until the sync toggles.
	set, _ = v.ReadEventFlag(0)
	assert.False(t, set)

	wasSet := sync.Toggle()
	assert.True(t, wasSet)
	set, _ = v.ReadEventFlag(0)
	assert.True(t, set)

	v.ClearEvents()
	set, _ = v.ReadEventFlag(0)
	assert.False(t, set)
}

func TestEventFlagTogglesOnlyOncePerSet(t *testing.T) {
	sync := NewObjectFlagSync()
	v := NewVar(NewScalarField(1, []byte{0}), SubInfo{Size: 1, DataType: UInt8, Access: Rw}).WithEventFlags(sync)

	require.NoError(t, v.SetEventFlag(0))
	sync.Toggle()
	set, _ := v.ReadEventFlag(0)
	assert.True(t, set)

	// Without another SetEventFlag call, a further toggle should not keep
	// the flag latched forever: clearing then toggling again shows false.
	v.ClearEvents()
	wasSet := sync.Toggle()
	assert.False(t, wasSet)
	set, _ = v.ReadEventFlag(0)
	assert.False(t, set)
}

func TestArrayHighestSubAndDispatch(t *testing.T) {
	a := NewArray()
	a.AddSub(1, NewScalarField(1, []byte{10}), SubInfo{Size: 1, DataType: UInt8, Access: Ro})
	a.AddSub(2, NewScalarField(1, []byte{20}), SubInfo{Size: 1, DataType: UInt8, Access: Ro})

	buf := make([]byte, 1)
	n, err := a.Read(0, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 2, buf[0])

	n, err = a.Read(2, 0, buf)
	require.NoError(t, err)
	assert.EqualValues(t, 20, buf[0])

	_, err = a.Read(3, 0, buf)
	assert.Equal(t, AbortNoSuchSubIndex, err)
}

func TestRecordSub0ReadOnly(t *testing.T) {
	r := NewRecord()
	r.AddSub(1, NewScalarField(1, []byte{1}), SubInfo{Size: 1, DataType: UInt8, Access: Rw})
	assert.Equal(t, AbortReadOnly, r.Write(0, []byte{5}))
}

func TestCallbackObjectDelegation(t *testing.T) {
	c := NewCallbackObject()
	_, err := c.Read(0, 0, make([]byte, 1))
	assert.Equal(t, AbortResourceNotAvailable, err)

	v := NewVar(NewScalarField(1, []byte{0}), SubInfo{Size: 1, DataType: UInt8, Access: Rw})
	c.Register(v)
	require.NoError(t, c.Write(0, []byte{7}))

	buf := make([]byte, 1)
	n, err := c.Read(0, 0, buf)
	require.NoError(t, err)
	assert.EqualValues(t, 7, buf[:n][0])

	c.Unregister()
	assert.Equal(t, AbortResourceNotAvailable, c.Write(0, []byte{1}))
}
