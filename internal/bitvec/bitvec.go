// Package bitvec holds the packed bit sequence used for tree descriptors and
// cell masks, plus the byte rounding rule that every exchange buffer obeys.
package bitvec

import (
	"errors"
	"fmt"
	"math/bits"
)

var ErrShortBuffer = errors.New("bitvec: buffer shorter than bit length")

// Vector is a growable bit sequence. Bit i lives in byte i/8 at position
// 7-(i%8), so the byte view reads left to right in bit order.
type Vector struct {
	buf []byte
	n   int
}

// RoundUpToByte returns the smallest multiple of 8 that is >= nbits.
func RoundUpToByte(nbits int) int {
	return (nbits + 7) &^ 7
}

// ByteLen returns the number of bytes needed to hold nbits.
func ByteLen(nbits int) int {
	return RoundUpToByte(nbits) / 8
}

func New(nbits int) *Vector {
	if nbits < 0 {
		nbits = 0
	}
	return &Vector{buf: make([]byte, ByteLen(nbits)), n: nbits}
}

// FromBytes copies the first nbits of b into a new vector.
func FromBytes(b []byte, nbits int) (*Vector, error) {
	if nbits < 0 || ByteLen(nbits) > len(b) {
		return nil, fmt.Errorf("%w: have %d bytes, need %d bits", ErrShortBuffer, len(b), nbits)
	}
	v := &Vector{buf: make([]byte, ByteLen(nbits))}
	copy(v.buf, b)
	v.n = len(v.buf) * 8
	v.Resize(nbits)
	return v, nil
}

func (v *Vector) Len() int {
	if v == nil {
		return 0
	}
	return v.n
}

// Get reports bit i. Bits past the end read as false.
func (v *Vector) Get(i int) bool {
	if v == nil || i < 0 || i >= v.n {
		return false
	}
	return v.buf[i>>3]&(0x80>>uint(i&7)) != 0
}

// Set writes bit i, growing the vector when i is past the end.
func (v *Vector) Set(i int, on bool) {
	if i < 0 {
		return
	}
	if i >= v.n {
		v.grow(i + 1)
	}
	mask := byte(0x80 >> uint(i&7))
	if on {
		v.buf[i>>3] |= mask
	} else {
		v.buf[i>>3] &^= mask
	}
}

func (v *Vector) Append(on bool) {
	v.Set(v.n, on)
}

// AppendRange copies n bits of src starting at start onto the end of v.
func (v *Vector) AppendRange(src *Vector, start, n int) {
	for i := 0; i < n; i++ {
		v.Append(src.Get(start + i))
	}
}

// PadToByte extends the vector with zero bits up to the next byte boundary.
func (v *Vector) PadToByte() {
	v.grow(RoundUpToByte(v.n))
}

// Bytes returns the packed view of the vector. Unused trailing bits of the
// last byte are zero. The slice aliases the vector's storage.
func (v *Vector) Bytes() []byte {
	if v == nil {
		return nil
	}
	return v.buf[:ByteLen(v.n)]
}

// Count returns the number of set bits.
func (v *Vector) Count() int {
	if v == nil {
		return 0
	}
	total := 0
	for _, b := range v.Bytes() {
		total += bits.OnesCount8(b)
	}
	return total
}

func (v *Vector) Clone() *Vector {
	if v == nil {
		return nil
	}
	buf := make([]byte, len(v.Bytes()))
	copy(buf, v.Bytes())
	return &Vector{buf: buf, n: v.n}
}

// Resize truncates or zero-extends the vector to nbits.
func (v *Vector) Resize(nbits int) {
	if nbits >= v.n {
		v.grow(nbits)
		return
	}
	v.n = nbits
	need := ByteLen(nbits)
	v.buf = v.buf[:need]
	if r := nbits & 7; r != 0 {
		v.buf[need-1] &= byte(0xFF << uint(8-r))
	}
}

func (v *Vector) String() string {
	out := make([]byte, v.Len())
	for i := range out {
		out[i] = '0'
		if v.Get(i) {
			out[i] = '1'
		}
	}
	return string(out)
}

func (v *Vector) grow(nbits int) {
	if nbits <= v.n {
		return
	}
	need := ByteLen(nbits)
	if need > cap(v.buf) {
		next := make([]byte, need, max(need, 2*cap(v.buf)))
		copy(next, v.buf)
		v.buf = next
	} else {
		old := len(v.buf)
		v.buf = v.buf[:need]
		clear(v.buf[old:])
	}
	v.n = nbits
}
