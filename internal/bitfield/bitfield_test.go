package bitfield

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type blockEntryFlags struct {
	Free     bool   `bitfield:",1"`
	IsFirst  bool   `bitfield:",1"`
	HasNext  bool   `bitfield:",1"`
	Reserved uint32 `bitfield:",5"`
}

func TestPackKnownBits(t *testing.T) {
	packed, err := Pack(blockEntryFlags{Free: false, IsFirst: true, HasNext: true}, nil)
	require.NoError(t, err)
	require.EqualValues(t, 0b110, packed)
}

func TestPackUnpackRoundTrip(t *testing.T) {
	cases := []blockEntryFlags{
		{Free: false, IsFirst: false, HasNext: false},
		{Free: true, IsFirst: false, HasNext: false},
		{Free: false, IsFirst: true, HasNext: true, Reserved: 0x1F},
		{Free: true, IsFirst: true, HasNext: false, Reserved: 0x0A},
	}
	for _, c := range cases {
		packed, err := Pack(c, nil)
		require.NoError(t, err)

		var out blockEntryFlags
		require.NoError(t, Unpack(packed, &out))
		require.Equal(t, c, out)
	}
}

func TestPackRejectsOversizedField(t *testing.T) {
	_, err := Pack(blockEntryFlags{Reserved: 0xFF}, nil)
	require.Error(t, err)
}

func TestPackRejectsNonStruct(t *testing.T) {
	_, err := Pack(42, nil)
	require.Error(t, err)
}

func TestUnpackRequiresPointer(t *testing.T) {
	err := Unpack(0, blockEntryFlags{})
	require.Error(t, err)
}
