package dw1000

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterValueUint64(t *testing.T) {
	tests := []struct {
		in   RegisterValue
		want uint64
	}{
		{RegisterValue{}, 0},
		{RegisterValue{0x01}, 0x01},
		{RegisterValue{0x30, 0x01, 0xCA, 0xDE}, 0xDECA0130},
		{RegisterValue{0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, _TIMESTAMP_MASK},
		{RegisterValue{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0x0807060504030201},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.Uint64(), "value %s", tt.in)
	}
}

func TestRegisterValueBits(t *testing.T) {
	v := RegisterValue{0x00, 0x40, 0x00, 0x00, 0x00}

	on, err := v.Bit(_RXFCG)
	require.NoError(t, err)
	assert.True(t, on)
	on, err = v.Bit(_RXFCE)
	require.NoError(t, err)
	assert.False(t, on)

	_, err = v.Bit(40)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = v.Bit(-1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRegisterValueWithBit(t *testing.T) {
	v := RegisterValue{0x00, 0x00, 0x00, 0x00}

	set, err := v.WithBit(_AUTOACK, true)
	require.NoError(t, err)
	assert.Equal(t, RegisterValue{0x00, 0x00, 0x00, 0x40}, set)
	assert.Equal(t, RegisterValue{0x00, 0x00, 0x00, 0x00}, v, "receiver is not modified")

	cleared, err := set.WithBit(_AUTOACK, false)
	require.NoError(t, err)
	assert.Equal(t, v, cleared)

	_, err = v.WithBit(32, true)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBigEndianView(t *testing.T) {
	v := RegisterValue{0x0D, 0xF0, 0x00, 0x80}
	be := v.BigEndian()

	assert.Equal(t, BigEndianView{0x80, 0x00, 0xF0, 0x0D}, be)
	assert.Equal(t, "0x0df00080", v.String())
	assert.Equal(t, "0x8000f00d", be.String())
	assert.Equal(t, "10000000 00000000 11110000 00001101", be.Bits())

	long := RegisterValue{1, 0, 0, 0, 2}.BigEndian()
	assert.Equal(t, "00000010 00000000 00000000 00000000\n00000001", long.Bits())
}

func TestUintToRegister(t *testing.T) {
	assert.Equal(t, RegisterValue{0x2D, 0x00, 0x1A, 0x31}, uintToRegister(0x311A002D, 4))
	assert.Equal(t, RegisterValue{0xFF, 0xFF}, uintToRegister(0x12FFFF, 2))
}
