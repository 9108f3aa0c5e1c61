// Package encoder provides the packed codecs for read bases and quality scores.
package encoder

import (
	"errors"
	"fmt"
)

// BasesPerWord is the number of 2-bit codes packed into one uint64 word.
const BasesPerWord = 32

// ErrInvalidAlphabet is returned when a sequence contains a byte outside
// {A,C,G,T} (case-insensitive).
var ErrInvalidAlphabet = errors.New("invalid nucleotide")

const invalidCode = 0xff

var baseTable [256]byte

// CodeToBase maps a 2-bit code back to its nucleotide.
// Encoding: A=00, C=01, G=10, T=11, so complementary bases are bitwise
// complements within 2 bits.
var CodeToBase = [4]byte{'A', 'C', 'G', 'T'}

func init() {
	for i := range baseTable {
		baseTable[i] = invalidCode
	}
	baseTable['A'] = 0
	baseTable['a'] = 0
	baseTable['C'] = 1
	baseTable['c'] = 1
	baseTable['G'] = 2
	baseTable['g'] = 2
	baseTable['T'] = 3
	baseTable['t'] = 3
}

// Complement returns the Watson-Crick complement of a 2-bit code.
func Complement(code byte) byte {
	return code ^ 0x03
}

// PackedLen returns the number of words needed to hold n 2-bit codes.
func PackedLen(n int) int {
	return (n + BasesPerWord - 1) / BasesPerWord
}

// PackBases converts a DNA sequence to 2-bit codes, 32 per word.
// Returns an error wrapping ErrInvalidAlphabet if seq holds anything but ACGT.
func PackBases(seq []byte) ([]uint64, error) {
	if len(seq) == 0 {
		return nil, nil
	}
	words, err := AppendPackedBases(make([]uint64, 0, PackedLen(len(seq))), seq)
	if err != nil {
		return nil, err
	}
	return words, nil
}

// AppendPackedBases appends the packed words for seq to dst.
// Position i lands in bits 2*(i%32) of word i/32, counting from the first
// appended word. On error the result is dst truncated to its original length.
func AppendPackedBases(dst []uint64, seq []byte) ([]uint64, error) {
	if len(seq) == 0 {
		return dst, nil
	}

	start := len(dst)
	var word uint64
	for i, b := range seq {
		c := baseTable[b]
		if c == invalidCode {
			return dst[:start], fmt.Errorf("%w: %q at position %d", ErrInvalidAlphabet, b, i)
		}
		word |= uint64(c) << ((i % BasesPerWord) * 2)
		if (i+1)%BasesPerWord == 0 {
			dst = append(dst, word)
			word = 0
		}
	}
	// Flush the final partial word
	if len(seq)%BasesPerWord != 0 {
		dst = append(dst, word)
	}
	return dst, nil
}

// BaseCode returns the 2-bit code stored at position i.
func BaseCode(words []uint64, i int) byte {
	return byte(words[i/BasesPerWord]>>((i%BasesPerWord)*2)) & 0x03
}

// UnpackBases converts packed words back to an n-base DNA sequence.
func UnpackBases(words []uint64, n int) []byte {
	return AppendUnpackBases(nil, words, n)
}

// AppendUnpackBases appends the first n unpacked bases to dst.
func AppendUnpackBases(dst []byte, words []uint64, n int) []byte {
	if n == 0 {
		return dst
	}

	start := len(dst)
	needed := start + n
	if cap(dst) < needed {
		newDst := make([]byte, start, needed)
		copy(newDst, dst)
		dst = newDst
	}
	dst = dst[:needed]

	for i := range n {
		dst[start+i] = CodeToBase[BaseCode(words, i)]
	}
	return dst
}
