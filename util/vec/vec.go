// Package vec implements the variable-byte integer coding used by every
// on-disk structure in the index. All operations work over a cursor into a
// caller-owned buffer and leave the cursor unchanged on failure, so a caller
// streaming a list from disk can top up the buffer and retry without losing
// position.
//
// See Williams and Zobel, "Compressing Integers for Fast File Access".
package vec

import (
	"math"

	"github.com/pkg/errors"
)

// VbyteMax is the maximum number of bytes a vbyte-encoded uint64 occupies.
const VbyteMax = 10

var (
	// ErrSpace reports that the vector ended too soon. The cursor is
	// unchanged; callers may refill the buffer and retry.
	ErrSpace = errors.New("insufficient space in vector")

	// ErrOverflow reports that a stored value does not fit in a uint64.
	// Unlike ErrSpace this is a format error, not a short read.
	ErrOverflow = errors.New("overflow reading vector")
)

// Vec is a read/write cursor over a byte buffer.
type Vec struct {
	Buf []byte
	Pos int
}

// New returns a cursor over buf positioned at its start.
func New(buf []byte) *Vec {
	return &Vec{Buf: buf}
}

// Len returns the number of bytes remaining between the cursor and the end
// of the buffer.
func (v *Vec) Len() int {
	return len(v.Buf) - v.Pos
}

// Remaining returns the unread portion of the buffer.
func (v *Vec) Remaining() []byte {
	return v.Buf[v.Pos:]
}

// VbyteLen returns the encoded length of n in bytes.
func VbyteLen(n uint64) int {
	len := 1
	for n >= 0x80 {
		n >>= 7
		len++
	}
	return len
}

// VbyteWrite appends n to the vector in vbyte coding, 7 bits per byte,
// low-order first, continuation bit set on all but the last byte. It returns
// the number of bytes written, or ErrSpace (cursor unchanged) if the value
// does not fit in the remaining buffer.
func (v *Vec) VbyteWrite(n uint64) (int, error) {
	if VbyteLen(n) > v.Len() {
		return 0, ErrSpace
	}
	bytes := 0
	for n >= 0x80 {
		v.Buf[v.Pos] = byte(n) | 0x80
		v.Pos++
		n >>= 7
		bytes++
	}
	v.Buf[v.Pos] = byte(n)
	v.Pos++
	return bytes + 1, nil
}

// VbyteRead reads one vbyte-coded integer. On failure the cursor is
// unchanged and the error distinguishes truncation (ErrSpace) from a value
// too large for a uint64 (ErrOverflow).
func (v *Vec) VbyteRead() (uint64, error) {
	var n uint64
	shift := uint(0)
	for i := v.Pos; i < len(v.Buf); i++ {
		b := v.Buf[i]
		if b&0x80 != 0 {
			if shift >= 64 {
				return 0, ErrOverflow
			}
			n |= uint64(b&0x7f) << shift
			shift += 7
		} else {
			if shift >= 64 || (shift > 57 && b >= 1<<(64-shift)) {
				return 0, ErrOverflow
			}
			n |= uint64(b) << shift
			v.Pos = i + 1
			return n, nil
		}
	}
	return 0, ErrSpace
}

// VbyteScan skips over num encoded integers without materialising their
// values, returning how many were scanned. The count can be short if the
// buffer runs out; the cursor stops after the last complete value.
func (v *Vec) VbyteScan(num int) int {
	scanned := 0
	pos := v.Pos
	for scanned < num {
		i := pos
		for i < len(v.Buf) && v.Buf[i]&0x80 != 0 {
			i++
		}
		if i >= len(v.Buf) {
			break
		}
		pos = i + 1
		scanned++
	}
	v.Pos = pos
	return scanned
}

// ByteWrite copies src into the vector, returning the number of bytes
// written. Short writes are caused by insufficient space.
func (v *Vec) ByteWrite(src []byte) int {
	n := copy(v.Buf[v.Pos:], src)
	v.Pos += n
	return n
}

// ByteRead copies up to len(dst) bytes out of the vector, returning the
// number read. Short reads are caused by insufficient data.
func (v *Vec) ByteRead(dst []byte) int {
	n := copy(dst, v.Buf[v.Pos:])
	v.Pos += n
	return n
}

// ByteScan skips over n bytes, returning how many were actually skipped.
func (v *Vec) ByteScan(n int) int {
	if rem := v.Len(); n > rem {
		n = rem
	}
	v.Pos += n
	return n
}

// FltFullPrecision is the precision of an IEEE single: 23 mantissa bits.
const FltFullPrecision = 23

// FltLen returns the storage size of a float at the given precision: one
// byte of exponent plus the fraction and sign bit rounded up to whole
// bytes. Sensible precisions are 7, 15 and 23.
func FltLen(precision int) int {
	return 1 + (precision+1+7)/8
}

// FltWrite stores flt with the given fraction precision in bits. The same
// precision must be supplied to read the value back.
func (v *Vec) FltWrite(flt float32, precision int) (int, error) {
	size := FltLen(precision)
	if size > v.Len() {
		return 0, ErrSpace
	}

	frac, exp := math.Frexp(float64(flt))

	// fold the exponent sign into the low bit
	var biasedExp uint32
	if exp >= 0 {
		biasedExp = uint32(exp) << 1
	} else {
		biasedExp = uint32(-exp)<<1 | 1
	}

	// quantise the fraction to precision bits, sign in the low bit
	mask := uint32(1)<<uint(precision) - 1
	var quantFrac uint32
	if flt >= 0 {
		quantFrac = uint32(frac*float64(mask)) << 1
	} else {
		quantFrac = uint32(-frac*float64(mask))<<1 | 1
	}

	v.Buf[v.Pos] = byte(biasedExp)
	v.Pos++
	for bits := precision + 1; bits > 0; bits -= 8 {
		v.Buf[v.Pos] = byte(quantFrac)
		v.Pos++
		quantFrac >>= 8
	}
	return size, nil
}

// FltRead reads a float stored with FltWrite at the same precision.
func (v *Vec) FltRead(precision int) (float32, error) {
	size := FltLen(precision)
	if size > v.Len() {
		return 0, ErrSpace
	}

	biasedExp := uint32(v.Buf[v.Pos])
	v.Pos++
	var quantFrac uint32
	shift := uint(0)
	for bits := precision + 1; bits > 0; bits -= 8 {
		quantFrac |= uint32(v.Buf[v.Pos]) << shift
		v.Pos++
		shift += 8
	}

	exp := int(biasedExp >> 1)
	if biasedExp&1 != 0 {
		exp = -exp
	}

	mask := uint32(1)<<uint(precision) - 1
	frac := float64(quantFrac>>1) / float64(mask)
	if quantFrac&1 != 0 {
		frac = -frac
	}

	return float32(math.Ldexp(frac, exp)), nil
}
