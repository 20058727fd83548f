package hips

import (
	"github.com/pkg/errors"
)

// This file converts between byte slices, bit sequences and integers.
// Bits are addressed most significant first throughout: bit j of byte b is
// (b >> (7-j)) & 1.

// BytesToBits unpacks a byte slice into a bit sequence of length 8*len(data).
func BytesToBits(data []byte) []bool {
	bits := make([]bool, 8*len(data))
	for i, b := range data {
		for j := 0; j < 8; j++ {
			bits[i*8+j] = (b>>(7-j))&1 == 1
		}
	}
	return bits
}

// BitsToBytes packs a bit sequence into bytes. The length of bits must be a
// multiple of eight.
func BitsToBytes(bits []bool) ([]byte, error) {
	if len(bits)%8 != 0 {
		return nil, errors.Wrap(ErrMalformedBitstream, "bit count not a multiple of 8")
	}
	data := make([]byte, len(bits)/8)
	for i := range data {
		var b byte
		for j := 0; j < 8; j++ {
			if bits[i*8+j] {
				b |= 1 << (7 - j)
			}
		}
		data[i] = b
	}
	return data, nil
}

// BitsToBytesPadded packs a bit sequence of any length into bytes. The bit
// sequence is padded at the front with p = (8 - len(bits)%8) % 8 zero bits,
// and a leading byte holding p is prepended, so BytesToBitsStripped is an
// exact inverse.
func BitsToBytesPadded(bits []bool) []byte {
	padding := (8 - len(bits)%8) % 8

	padded := make([]bool, 0, 8+padding+len(bits))
	padded = append(padded, BytesToBits([]byte{byte(padding)})...)
	padded = append(padded, make([]bool, padding)...)
	padded = append(padded, bits...)

	// The length is a multiple of eight by construction.
	data, err := BitsToBytes(padded)
	if err != nil {
		panic(err)
	}
	return data
}

// BytesToBitsStripped unpacks a byte slice produced by BitsToBytesPadded,
// dropping the leading padding-length byte and the padding bits it counts.
func BytesToBitsStripped(data []byte) ([]bool, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(ErrMalformedBitstream, "missing padding byte")
	}
	padding := int(data[0])
	bits := BytesToBits(data)
	if 8+padding > len(bits) {
		return nil, errors.Wrap(ErrMalformedBitstream, "padding exceeds payload")
	}
	return bits[8+padding:], nil
}

// IntToBits converts a non-negative integer into its fixed-width binary
// representation, most significant bit first. The result is empty if width
// is zero.
func IntToBits(n int64, width int) []bool {
	bits := make([]bool, width)
	for j := width - 1; j >= 0; j-- {
		bits[j] = n&1 == 1
		n >>= 1
	}
	return bits
}

// BitsToInt interprets a bit sequence as an integer, most significant bit
// first. An empty sequence yields zero.
func BitsToInt(bits []bool) int64 {
	var n int64
	for _, bit := range bits {
		n <<= 1
		if bit {
			n |= 1
		}
	}
	return n
}

// sharedPrefixLen counts the leading bits on which the two sequences agree.
func sharedPrefixLen(a, b []bool) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}
