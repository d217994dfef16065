package mailbox

import (
	"testing"

	canopen "github.com/canofirmware/nodestack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifiesNmtFrame(t *testing.T) {
	m := New(nil)
	ok := m.StoreMessage(canopen.Frame{ID: NmtCmdId, DLC: 2, Data: [8]byte{1, 5}})
	require.True(t, ok)

	data, ok := m.DrainNMT()
	require.True(t, ok)
	assert.Equal(t, byte(1), data[0])
	assert.Equal(t, byte(5), data[1])

	_, ok = m.DrainNMT()
	assert.False(t, ok)
}

func TestClassifiesSync(t *testing.T) {
	m := New(nil)
	assert.False(t, m.DrainSync())
	m.StoreMessage(canopen.Frame{ID: SyncId, DLC: 0})
	assert.True(t, m.DrainSync())
	assert.False(t, m.DrainSync())
}

func TestClassifiesLss(t *testing.T) {
	m := New(nil)
	m.StoreMessage(canopen.Frame{ID: LssReqId, DLC: 8, Data: [8]byte{0x04, 1}})
	data, ok := m.DrainLSS()
	require.True(t, ok)
	assert.Equal(t, byte(0x04), data[0])
}

func TestClassifiesSdoOnlyWhenNodeIdConfigured(t *testing.T) {
	m := New(nil)
	ok := m.StoreMessage(canopen.Frame{ID: 0x601, DLC: 8})
	assert.False(t, ok)

	m.SetNodeId(1)
	ok = m.StoreMessage(canopen.Frame{ID: 0x601, DLC: 8, Data: [8]byte{0x40}})
	require.True(t, ok)
	data, ok := m.DrainSDO()
	require.True(t, ok)
	assert.Equal(t, byte(0x40), data[0])
}

func TestClassifiesConfiguredRpdo(t *testing.T) {
	m := New(nil)
	m.ConfigureRPDO(0, 0x201, true)

	ok := m.StoreMessage(canopen.Frame{ID: 0x201, DLC: 8, Data: [8]byte{1, 2, 3, 4}})
	require.True(t, ok)

	data, ok := m.DrainRPDO(0)
	require.True(t, ok)
	assert.Equal(t, [8]byte{1, 2, 3, 4}, data)

	// An invalid RPDO slot never classifies.
	m.ConfigureRPDO(1, 0x301, false)
	ok = m.StoreMessage(canopen.Frame{ID: 0x301, DLC: 8})
	assert.False(t, ok)
}

func TestOverwriteSemantics(t *testing.T) {
	m := New(nil)
	m.ConfigureRPDO(0, 0x201, true)
	m.StoreMessage(canopen.Frame{ID: 0x201, Data: [8]byte{1}})
	m.StoreMessage(canopen.Frame{ID: 0x201, Data: [8]byte{2}})

	data, ok := m.DrainRPDO(0)
	require.True(t, ok)
	assert.Equal(t, byte(2), data[0])

	_, ok = m.DrainRPDO(0)
	assert.False(t, ok)
}

func TestUnhandledFrameReturnsFalse(t *testing.T) {
	m := New(nil)
	ok := m.StoreMessage(canopen.Frame{ID: 0x999})
	assert.False(t, ok)
}
