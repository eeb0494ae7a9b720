package stem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnowballEnglish(t *testing.T) {
	fn, err := Snowball("english")
	require.NoError(t, err)
	require.NotNil(t, fn)
	assert.Equal(t, "run", fn("running"))
	assert.Equal(t, fn("searching"), fn("searched"))
}

func TestSnowballNone(t *testing.T) {
	fn, err := Snowball("")
	require.NoError(t, err)
	assert.Nil(t, fn)
}

func TestSnowballUnknown(t *testing.T) {
	_, err := Snowball("klingon")
	assert.Error(t, err)
}
