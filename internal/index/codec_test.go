package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecimalLocations(t *testing.T) {
	value, err := DecimalLocations.EncodeLocation(Location{File: 1, Offset: 0, Length: 6})
	require.NoError(t, err)
	assert.Equal(t, "1:0:6", string(value))

	loc, err := DecimalLocations.DecodeLocation([]byte("12:4096:3"))
	require.NoError(t, err)
	assert.Equal(t, Location{File: 12, Offset: 4096, Length: 3}, loc)
}

func TestBinaryLocations(t *testing.T) {
	locs := []Location{
		{File: 1, Offset: 0, Length: 0},
		{File: 3, Offset: 1<<32 - 1, Length: 300},
		{File: 1 << 40, Offset: 5, Length: 1 << 31},
	}
	for _, loc := range locs {
		value, err := BinaryLocations.EncodeLocation(loc)
		require.NoError(t, err)
		got, err := BinaryLocations.DecodeLocation(value)
		require.NoError(t, err)
		assert.Equal(t, loc, got)
	}

	value, err := BinaryLocations.EncodeLocation(Location{File: 1, Offset: 0, Length: 6})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 6}, value)
}

func TestInvalidLocations(t *testing.T) {
	for _, value := range []string{"", "1:2", "1:2:3:4", "a:0:1", "1:-1:3", "0:0:1", "1::3"} {
		_, err := DecimalLocations.DecodeLocation([]byte(value))
		assert.ErrorIs(t, err, ErrInvalidLocation, "%q", value)
	}

	for _, value := range [][]byte{nil, {1, 0}, {1, 0, 6, 9}, {0, 0, 1}, {0x80}} {
		_, err := BinaryLocations.DecodeLocation(value)
		assert.ErrorIs(t, err, ErrInvalidLocation, "%x", value)
	}

	for _, codec := range []ValueCodec{DecimalLocations, BinaryLocations} {
		_, err := codec.EncodeLocation(Location{File: 0, Offset: 0, Length: 1})
		assert.ErrorIs(t, err, ErrInvalidLocation)
		_, err = codec.EncodeLocation(Location{File: 1, Offset: -1, Length: 1})
		assert.ErrorIs(t, err, ErrInvalidLocation)
	}
}

func TestIdentityKeys(t *testing.T) {
	key, err := IdentityKeys.EncodeKey("one")
	require.NoError(t, err)
	assert.Equal(t, "one", key)

	_, err = IdentityKeys.EncodeKey("")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestValueCodecByName(t *testing.T) {
	codec, err := ValueCodecByName("binary")
	require.NoError(t, err)
	assert.Equal(t, BinaryLocations, codec)

	codec, err = ValueCodecByName("")
	require.NoError(t, err)
	assert.Equal(t, DecimalLocations, codec)

	_, err = ValueCodecByName("json")
	assert.Error(t, err)
}
