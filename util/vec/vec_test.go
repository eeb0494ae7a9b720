package vec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVbyteRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 16383, 16384, 2097151, 2097152,
		268435455, 268435456, 4294967295, 4294967296, 1<<63 - 1, 1<<64 - 1}

	buf := make([]byte, 64)
	for _, n := range values {
		v := New(buf)
		wrote, err := v.VbyteWrite(n)
		require.NoError(t, err)
		require.Equal(t, VbyteLen(n), wrote, "wrote wrong number of bytes for %v", n)

		v.Pos = 0
		got, err := v.VbyteRead()
		require.NoError(t, err)
		assert.Equal(t, n, got)
		assert.Equal(t, wrote, v.Pos, "read consumed different bytes than written")
	}
}

func TestVbyteTruncation(t *testing.T) {
	for _, n := range []uint64{128, 16384, 1 << 40} {
		short := make([]byte, VbyteLen(n)-1)
		v := New(short)
		_, err := v.VbyteWrite(n)
		require.Equal(t, ErrSpace, err)
		assert.Equal(t, 0, v.Pos, "cursor moved on failed write")
	}

	// a partial encoding reads back as a short read, cursor unchanged
	buf := make([]byte, 16)
	v := New(buf)
	_, err := v.VbyteWrite(1 << 40)
	require.NoError(t, err)
	v.Buf = buf[:2]
	v.Pos = 0
	_, err = v.VbyteRead()
	require.Equal(t, ErrSpace, err)
	assert.Equal(t, 0, v.Pos, "cursor moved on short read")
}

func TestVbyteOverflow(t *testing.T) {
	// eleven continuation bytes cannot fit in a uint64
	buf := make([]byte, 12)
	for i := 0; i < 11; i++ {
		buf[i] = 0xff
	}
	buf[11] = 0x01
	v := New(buf)
	_, err := v.VbyteRead()
	require.Equal(t, ErrOverflow, err)
}

func TestVbyteScan(t *testing.T) {
	buf := make([]byte, 64)
	v := New(buf)
	values := []uint64{3, 300, 30000, 3000000, 5}
	for _, n := range values {
		_, err := v.VbyteWrite(n)
		require.NoError(t, err)
	}
	end := v.Pos

	v.Pos = 0
	require.Equal(t, 3, v.VbyteScan(3))
	got, err := v.VbyteRead()
	require.NoError(t, err)
	assert.Equal(t, uint64(3000000), got)

	// scanning past the end stops at the last complete value
	v.Pos = 0
	v.Buf = buf[:end]
	assert.Equal(t, len(values), v.VbyteScan(100))
	assert.Equal(t, end, v.Pos)
}

func TestByteOps(t *testing.T) {
	v := New(make([]byte, 8))
	n := v.ByteWrite([]byte("abcdefghij"))
	assert.Equal(t, 8, n, "write should be short")

	v.Pos = 0
	dst := make([]byte, 4)
	require.Equal(t, 4, v.ByteRead(dst))
	assert.Equal(t, []byte("abcd"), dst)
	assert.Equal(t, 4, v.ByteScan(100), "scan should stop at end")
}

func TestFltRoundTrip(t *testing.T) {
	values := []float32{0, 1, -1, 0.5, 3.25, -1234.5, 0.00390625, 987654.0}
	for _, precision := range []int{7, 15, 23} {
		for _, f := range values {
			v := New(make([]byte, 16))
			wrote, err := v.FltWrite(f, precision)
			require.NoError(t, err)
			require.Equal(t, FltLen(precision), wrote)

			v.Pos = 0
			got, err := v.FltRead(precision)
			require.NoError(t, err)
			if f == 0 {
				assert.Equal(t, float32(0), got)
			} else {
				// quantisation error is bounded by the precision
				assert.InEpsilon(t, f, got, 1.0/float64(uint32(1)<<uint(precision-1)),
					"precision %d", precision)
			}
		}
	}
}

func TestFltTruncation(t *testing.T) {
	v := New(make([]byte, 2))
	_, err := v.FltWrite(1.5, 15)
	require.Equal(t, ErrSpace, err)
	assert.Equal(t, 0, v.Pos)
}
