package unit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddress_String(t *testing.T) {
	assert.Equal(t, "0.1", Slide(0, 1).String())
	assert.Equal(t, "2.0.3", Fragment(2, 0, 3).String())
	assert.Equal(t, "2.0", Fragment(2, 0, -4).String())
	assert.Equal(t, "audioplayer-1.2.0", Fragment(1, 2, 0).PlayerID())
}

func TestAddress_Filename(t *testing.T) {
	assert.Equal(t, "1.0.ogg", Slide(1, 0).Filename("ogg"))
	assert.Equal(t, "1.0.2.ogg", Fragment(1, 0, 2).Filename(".ogg"))
	assert.Equal(t, "1.0", Slide(1, 0).Filename(""))
}

func TestAddress_Compare(t *testing.T) {
	ordered := []Address{
		Slide(0, 0),
		Fragment(0, 0, 0),
		Fragment(0, 0, 1),
		Slide(0, 1),
		Fragment(0, 1, 0),
		Slide(1, 0),
	}
	for i := 0; i < len(ordered)-1; i++ {
		assert.True(t, ordered[i].Less(ordered[i+1]), "%s < %s", ordered[i], ordered[i+1])
		assert.False(t, ordered[i+1].Less(ordered[i]))
	}
	assert.Equal(t, 0, Address{H: 1, V: 1, F: -1}.Compare(Address{H: 1, V: 1, F: -7}))
}

func TestParse(t *testing.T) {
	a, err := Parse("3.1")
	require.NoError(t, err)
	assert.Equal(t, Slide(3, 1), a)

	a, err = Parse("3.1.2")
	require.NoError(t, err)
	assert.Equal(t, Fragment(3, 1, 2), a)

	for _, bad := range []string{"", "1", "1.x", "1.2.3.4", "-1.0"} {
		_, err := Parse(bad)
		assert.ErrorIs(t, err, ErrInvalidAddress, bad)
	}
}
