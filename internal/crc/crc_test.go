package crc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSingleByte(t *testing.T) {
	var c CRC16
	c.Single(10)
	assert.EqualValues(t, 0xA14A, c)
}

func TestBlockMatchesRepeatedSingle(t *testing.T) {
	data := []byte("Testers")
	var viaSingle CRC16
	for _, b := range data {
		viaSingle.Single(b)
	}
	assert.EqualValues(t, viaSingle, Compute(data))
}

func TestBlockAccumulatesAcrossCalls(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7}
	whole := Compute(data)

	var split CRC16
	split.Block(data[:3])
	split.Block(data[3:])
	assert.EqualValues(t, whole, split)
}

func TestEmptyInputIsZero(t *testing.T) {
	assert.EqualValues(t, 0, Compute(nil))
}
