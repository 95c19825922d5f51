package startcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextFindsThreeByteCode(t *testing.T) {
	data := []byte{0xaa, 0xbb, 0x00, 0x00, 0x01, 0x67, 0x42}
	offset, prefixLen, ok := Next(data, 0)
	assert.True(t, ok)
	assert.Equal(t, 5, offset)
	assert.Equal(t, 3, prefixLen)
}

func TestNextFindsFourByteCode(t *testing.T) {
	data := []byte{0xaa, 0x00, 0x00, 0x00, 0x01, 0x67, 0x42}
	offset, prefixLen, ok := Next(data, 0)
	assert.True(t, ok)
	assert.Equal(t, 5, offset)
	assert.Equal(t, 4, prefixLen)
}

func TestNextNoCode(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09}
	_, _, ok := Next(data, 0)
	assert.False(t, ok)
}

func TestNextRespectsFromOffset(t *testing.T) {
	data := []byte{0x00, 0x00, 0x01, 0xaa, 0x00, 0x00, 0x01, 0xbb}
	offset, _, ok := Next(data, 3)
	assert.True(t, ok)
	assert.Equal(t, 7, offset)
}

func TestNextCodeStraddlingWordBoundary(t *testing.T) {
	// wordSize is 8; place the start code so it spans bytes 6-9, crossing
	// the first 64-bit SWAR chunk boundary.
	data := make([]byte, 16)
	for i := range data {
		data[i] = 0xff
	}
	data[6], data[7], data[8], data[9] = 0x00, 0x00, 0x00, 0x01
	offset, prefixLen, ok := Next(data, 0)
	assert.True(t, ok)
	assert.Equal(t, 10, offset)
	assert.Equal(t, 4, prefixLen)
}

func TestNextMultipleCodesWalksForward(t *testing.T) {
	data := []byte{0x00, 0x00, 0x01, 0xaa, 0xbb, 0x00, 0x00, 0x01, 0xcc}
	first, _, ok := Next(data, 0)
	assert.True(t, ok)
	second, _, ok := Next(data, first)
	assert.True(t, ok)
	assert.Equal(t, 8, second)
}

func TestHasZeroByte(t *testing.T) {
	assert.True(t, hasZeroByte(0x0000000000000000))
	assert.True(t, hasZeroByte(0xff00ffffffffffff))
	assert.False(t, hasZeroByte(0xffffffffffffffff))
}
