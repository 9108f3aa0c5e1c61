// Package reads provides Read, a genomic read held in packed form: 2-bit bases,
// quantized quality and a lazy reverse-complement flag.
//
// A Read is immutable after construction except for its orientation. Readers may
// share a Read across goroutines as long as ReverseComplement is not called
// concurrently with any accessor.
package reads

import (
	"errors"
	"fmt"

	"github.com/vertti/nucpack/internal/encoder"
)

var (
	// ErrLengthMismatch is returned when a quality buffer does not match the
	// sequence length.
	ErrLengthMismatch = errors.New("sequence and quality lengths differ")

	// ErrCorrupt is returned by FromPacked when the packed buffers do not agree
	// with the declared length.
	ErrCorrupt = errors.New("corrupt packed read")
)

// Read is a nucleotide sequence with optional per-base quality, stored packed.
type Read struct {
	id        uint64
	name      []byte
	length    int
	bases     []uint64
	qualIndex []uint64
	levels    []uint32
	reverse   bool
}

// New packs a read without quality. It fails with encoder.ErrInvalidAlphabet if
// data contains anything but A, C, G or T (either case). ids may be nil.
func New(ids *IDSource, name, data []byte) (*Read, error) {
	bases, err := encoder.PackBases(data)
	if err != nil {
		return nil, err
	}
	return &Read{
		id:     ids.Next(),
		name:   append([]byte(nil), name...),
		length: len(data),
		bases:  bases,
	}, nil
}

// NewWithQuality packs a read and quantizes its Phred+33 quality. Bases are
// packed first; quality is not examined if they are invalid. A nil quality
// behaves like New.
func NewWithQuality(ids *IDSource, name, data, quality []byte) (*Read, error) {
	bases, err := encoder.PackBases(data)
	if err != nil {
		return nil, err
	}
	if quality != nil && len(quality) != len(data) {
		return nil, fmt.Errorf("%w: %d bases, %d scores", ErrLengthMismatch, len(data), len(quality))
	}

	r := &Read{
		id:     ids.Next(),
		name:   append([]byte(nil), name...),
		length: len(data),
		bases:  bases,
	}
	if len(quality) > 0 {
		r.qualIndex, r.levels = encoder.QuantizeQuality(quality)
	}
	return r, nil
}

// Packed holds the write-once buffers of a Read, for persistence.
type Packed struct {
	Length    int
	Bases     []uint64
	QualIndex []uint64
	Levels    []uint32
	Reverse   bool
}

// Packed returns the read's packed buffers. The slices are shared with the
// read and must not be modified.
func (r *Read) Packed() Packed {
	return Packed{
		Length:    r.length,
		Bases:     r.bases,
		QualIndex: r.qualIndex,
		Levels:    r.levels,
		Reverse:   r.reverse,
	}
}

// FromPacked rebuilds a Read from buffers previously obtained with Packed.
// The buffers are adopted, not copied.
func FromPacked(id uint64, name []byte, p Packed) (*Read, error) {
	if p.Length < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrCorrupt, p.Length)
	}
	if want := encoder.PackedLen(p.Length); len(p.Bases) != want {
		return nil, fmt.Errorf("%w: %d base words for length %d, want %d", ErrCorrupt, len(p.Bases), p.Length, want)
	}
	hasQuality := len(p.QualIndex) > 0 || len(p.Levels) > 0
	if hasQuality {
		if want := encoder.PackedLen(p.Length); len(p.QualIndex) != want {
			return nil, fmt.Errorf("%w: %d quality words for length %d, want %d", ErrCorrupt, len(p.QualIndex), p.Length, want)
		}
		if want := encoder.WindowCount(p.Length); len(p.Levels) != want {
			return nil, fmt.Errorf("%w: %d level words for length %d, want %d", ErrCorrupt, len(p.Levels), p.Length, want)
		}
	}
	return &Read{
		id:        id,
		name:      name,
		length:    p.Length,
		bases:     p.Bases,
		qualIndex: p.QualIndex,
		levels:    p.Levels,
		reverse:   p.Reverse,
	}, nil
}

// ID returns the ordinal assigned at construction.
func (r *Read) ID() uint64 { return r.id }

// Name returns the read name as given at construction.
func (r *Read) Name() []byte { return r.name }

// Len returns the number of bases.
func (r *Read) Len() int { return r.length }

// HasQuality reports whether quality scores were encoded.
func (r *Read) HasQuality() bool { return len(r.levels) > 0 }

// IsReverseComplement reports the current orientation.
func (r *Read) IsReverseComplement() bool { return r.reverse }

// ReverseComplement flips the read's orientation in O(1). Applying it twice
// restores the original orientation.
func (r *Read) ReverseComplement() {
	r.reverse = !r.reverse
}

// index maps a logical position to its stored position.
func (r *Read) index(i int) int {
	if i < 0 || i >= r.length {
		panic(fmt.Sprintf("reads: index %d out of range [0:%d]", i, r.length))
	}
	if r.reverse {
		return r.length - i - 1
	}
	return i
}

// Code returns the 2-bit code (A=0, C=1, G=2, T=3) at position i in the
// current orientation.
func (r *Read) Code(i int) byte {
	c := encoder.BaseCode(r.bases, r.index(i))
	if r.reverse {
		c = encoder.Complement(c)
	}
	return c
}

// Base returns the nucleotide at position i in the current orientation.
func (r *Read) Base(i int) byte {
	return encoder.CodeToBase[r.Code(i)]
}

// Score returns the decoded Phred value (without the '!' offset) at position i
// in the current orientation. It panics if the read has no quality.
func (r *Read) Score(i int) byte {
	if !r.HasQuality() {
		panic("reads: Score on read without quality")
	}
	return encoder.QualityScore(r.qualIndex, r.levels, r.index(i))
}

// span clamps [offset, offset+n) to the read. A negative n means through the end.
func (r *Read) span(offset, n int) (int, int) {
	if offset < 0 || offset >= r.length {
		return 0, 0
	}
	if n < 0 || n > r.length-offset {
		n = r.length - offset
	}
	return offset, n
}

// InflateData returns n bases starting at offset in the current orientation.
// n is clamped to the end of the read; a negative n means through the end.
// An offset outside the read yields an empty result.
func (r *Read) InflateData(offset, n int) []byte {
	offset, n = r.span(offset, n)
	dst := make([]byte, n)
	for j := range dst {
		dst[j] = encoder.CodeToBase[r.Code(offset+j)]
	}
	return dst
}

// InflateQuality returns n Phred+33 quality bytes starting at offset in the
// current orientation, with the same clamping as InflateData. It returns an
// empty result if the read has no quality.
func (r *Read) InflateQuality(offset, n int) []byte {
	if !r.HasQuality() {
		return []byte{}
	}
	offset, n = r.span(offset, n)
	dst := make([]byte, n)
	for j := range dst {
		dst[j] = r.Score(offset+j) + encoder.PhredBase
	}
	return dst
}

// Data returns the whole sequence in the current orientation.
func (r *Read) Data() []byte { return r.InflateData(0, -1) }

// Quality returns the whole decoded quality string in the current orientation,
// or an empty slice if the read has none.
func (r *Read) Quality() []byte { return r.InflateQuality(0, -1) }
