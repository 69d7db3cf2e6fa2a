package crc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCCITTSingleByteRawInit(t *testing.T) {
	var c CRC16
	c.Single(10)
	assert.EqualValues(t, 0xA14A, c)
}

func TestCCITTEmptyPayloadIsConstant(t *testing.T) {
	assert.EqualValues(t, 0xFFFF, CCITT(nil))
}

func TestCCITTPingFrame(t *testing.T) {
	// len=0, seq=0x1234 (LE: 34 12), command=0x01 (PING), no payload.
	data := []byte{0x00, 0x00, 0x34, 0x12, 0x01}
	assert.EqualValues(t, 0x7D59, CCITT(data))
}

func TestCCITTBitFlipChangesChecksum(t *testing.T) {
	data := []byte{0x00, 0x00, 0x34, 0x12, 0x01}
	base := CCITT(data)
	flipped := make([]byte, len(data))
	copy(flipped, data)
	flipped[2] ^= 0x01
	assert.NotEqual(t, base, CCITT(flipped))
}

func TestIEEE32KnownVector(t *testing.T) {
	assert.EqualValues(t, 0xCBF43926, IEEE32([]byte("123456789")))
}
