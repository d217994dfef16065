package bootloader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canofirmware/nodestack/pkg/od"
)

func TestInfoReportsAppBit(t *testing.T) {
	info := NewInfo(true, 2)
	buf := make([]byte, 4)
	n, err := info.Read(1, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, uint32(0b11), od.DecodeUint(buf))

	n, err = info.Read(2, 0, buf[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint8(2), buf[0])
}

func TestInfoBootMagicSetsResetFlag(t *testing.T) {
	info := NewInfo(true, 0)
	assert.False(t, info.ResetRequested())

	assert.Equal(t, od.AbortInvalidValue, info.Write(3, []byte{1, 2, 3, 4}))
	require.NoError(t, info.Write(3, []byte("BOOT")))
	assert.True(t, info.ResetRequested())

	info.ClearResetRequest()
	assert.False(t, info.ResetRequested())
}

func TestInfoBootMagicRejectedOnBootloaderImage(t *testing.T) {
	info := NewInfo(false, 0)
	assert.Equal(t, od.AbortUnsupportedAccess, info.Write(3, []byte("BOOT")))
}

type fakeSection struct {
	erased    bool
	written   []byte
	finalized bool
	failErase bool
}

func (f *fakeSection) Erase() bool {
	if f.failErase {
		return false
	}
	f.erased = true
	return true
}
func (f *fakeSection) Write(data []byte) { f.written = append(f.written, data...) }
func (f *fakeSection) Finalize() bool    { f.finalized = true; return true }

func TestSectionEraseWriteFlow(t *testing.T) {
	sec := NewSection("app", 1024)
	cb := &fakeSection{}
	sec.RegisterCallbacks(cb)

	assert.Equal(t, od.AbortDeviceState, sec.Write(4, []byte{1, 2, 3}))

	require.NoError(t, sec.Write(3, od.EncodeUint(4, EraseMagic)))
	assert.True(t, cb.erased)

	require.NoError(t, sec.Write(4, []byte{1, 2, 3}))
	assert.Equal(t, []byte{1, 2, 3}, cb.written)
	assert.True(t, cb.finalized)
}

func TestSectionWithoutCallbacksIsUnavailable(t *testing.T) {
	sec := NewSection("boot", 512)
	assert.Equal(t, od.AbortResourceNotAvailable, sec.Write(3, od.EncodeUint(4, EraseMagic)))
}

func TestSectionNameReadable(t *testing.T) {
	sec := NewSection("bootloader", 0)
	buf := make([]byte, 16)
	n, err := sec.Read(2, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "bootloader", string(buf[:n]))
}
