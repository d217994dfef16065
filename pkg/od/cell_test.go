package od

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalarFieldRoundTrip(t *testing.T) {
	f := NewScalarField(2, []byte{0x34, 0x12})
	assert.EqualValues(t, 2, f.ReadSize())

	buf := make([]byte, 2)
	n, err := f.Read(0, buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0x34, 0x12}, buf)

	require.NoError(t, f.Write([]byte{0xff, 0x00}))
	assert.EqualValues(t, 0x00ff, f.Uint32())
}

func TestScalarFieldWrongWidth(t *testing.T) {
	f := NewScalarField(4, []byte{0, 0, 0, 0})
	assert.Equal(t, AbortLengthTooLow, f.Write([]byte{1, 2}))
	assert.Equal(t, AbortLengthTooHigh, f.Write([]byte{1, 2, 3, 4, 5}))
}

func TestScalarFieldPartialOffsetRead(t *testing.T) {
	f := NewScalarField(4, []byte{1, 2, 3, 4})
	buf := make([]byte, 2)
	n, err := f.Read(2, buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{3, 4}, buf)

	n, err = f.Read(4, buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestByteFieldPartialWriteTransaction(t *testing.T) {
	f := NewByteField(8)
	_, err := f.WritePartial([]byte{1})
	assert.Equal(t, AbortResourceNotAvailable, err)

	require.NoError(t, f.BeginPartial())
	n, err := f.WritePartial([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = f.WritePartial([]byte{4, 5})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, f.EndPartial())

	assert.EqualValues(t, 5, f.ReadSize())
	buf := make([]byte, 5)
	n, err = f.Read(0, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, buf[:n])
}

func TestByteFieldPartialOverflow(t *testing.T) {
	f := NewByteField(4)
	require.NoError(t, f.BeginPartial())
	_, err := f.WritePartial([]byte{1, 2, 3, 4, 5})
	assert.Equal(t, AbortLengthTooHigh, err)
}

func TestNullTermByteFieldShortWriteTerminates(t *testing.T) {
	f := NewNullTermByteField(8)
	require.NoError(t, f.Write([]byte("hi")))
	assert.EqualValues(t, 2, f.ReadSize())

	buf := make([]byte, 2)
	n, err := f.Read(0, buf)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(buf[:n]))
}

func TestNullTermByteFieldFullWriteNoRoomForNull(t *testing.T) {
	f := NewNullTermByteField(4)
	require.NoError(t, f.Write([]byte("abcd")))
	assert.EqualValues(t, 4, f.ReadSize())
}

func TestConstFieldRejectsWrite(t *testing.T) {
	f := NewConstField([]byte{1, 2, 3})
	assert.Equal(t, AbortReadOnly, f.Write([]byte{9}))
	buf := make([]byte, 3)
	n, _ := f.Read(0, buf)
	assert.Equal(t, []byte{1, 2, 3}, buf[:n])
}

func TestConstByteRefAliasesSlice(t *testing.T) {
	src := []byte("acme corp")
	f := NewConstByteRef(src)
	assert.EqualValues(t, len(src), f.ReadSize())
}

func TestCallbackSubObjectBeforeRegistration(t *testing.T) {
	var c CallbackSubObject
	_, err := c.Read(0, make([]byte, 1))
	assert.Equal(t, AbortResourceNotAvailable, err)
	assert.Equal(t, AbortResourceNotAvailable, c.Write([]byte{1}))
}

func TestCallbackSubObjectDelegates(t *testing.T) {
	var c CallbackSubObject
	backing := NewScalarField(1, []byte{0})
	c.Register(backing)

	require.NoError(t, c.Write([]byte{42}))
	assert.EqualValues(t, 42, backing.Uint32())

	c.Unregister()
	assert.Equal(t, AbortResourceNotAvailable, c.Write([]byte{1}))
}
