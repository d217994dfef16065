package od

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDefaultIntegerWidths(t *testing.T) {
	b, err := EncodeDefault(UInt16, "1000")
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), DecodeUint(b))

	b, err = EncodeDefault(Int8, "-5")
	require.NoError(t, err)
	assert.Equal(t, int32(-5), DecodeInt(b))
}

func TestEncodeDefaultHexLiteral(t *testing.T) {
	b, err := EncodeDefault(UInt32, "0x1400")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1400), DecodeUint(b))
}

func TestEncodeDefaultReal32(t *testing.T) {
	b, err := EncodeDefault(Real32, "3.5")
	require.NoError(t, err)
	assert.InDelta(t, 3.5, DecodeReal32(b), 1e-6)
}

func TestEncodeDefaultBoolean(t *testing.T) {
	b, err := EncodeDefault(Boolean, "true")
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, b)
}

func TestEncodeDefaultString(t *testing.T) {
	b, err := EncodeDefault(VisibleString, "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", string(b))
}

func TestEncodeDefaultRejectsMalformed(t *testing.T) {
	_, err := EncodeDefault(UInt8, "not-a-number")
	assert.Error(t, err)
}

func TestSizeOfFixedTypes(t *testing.T) {
	assert.EqualValues(t, 1, SizeOf(Boolean))
	assert.EqualValues(t, 2, SizeOf(Int16))
	assert.EqualValues(t, 4, SizeOf(Real32))
	assert.EqualValues(t, 0, SizeOf(VisibleString))
}
