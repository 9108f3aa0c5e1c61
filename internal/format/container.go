// Package format defines the NPK container format for packed reads.
package format

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
)

// Magic bytes identifying NPK format.
var Magic = [4]byte{'N', 'P', 'K', 0x00}

// Format flags.
const (
	FlagPhred64 uint8 = 1 << 0 // Source quality was Phred+64, converted to Phred+33 before packing
	FlagQuality uint8 = 1 << 1 // At least one read carries quantized quality
)

// Supported file format versions.
const (
	Version1       uint8 = 1
	CurrentVersion       = Version1
)

// Container errors.
var (
	ErrInvalidMagic       = errors.New("invalid magic bytes: not an NPK file")
	ErrUnsupportedVersion = errors.New("unsupported NPK version")
	ErrChecksum           = errors.New("block checksum mismatch")
)

const (
	fileHeaderSize  = 6
	blockHeaderSize = 4*9 + 8
)

// FileHeader is written at the start of every NPK file.
type FileHeader struct {
	Version   uint8  // Format version
	BlockSize uint32 // Maximum number of reads per block
	Flags     uint8  // Format flags
}

// Write serializes the file header to the writer.
func (h *FileHeader) Write(w io.Writer) error {
	if _, err := w.Write(Magic[:]); err != nil {
		return err
	}
	buf := make([]byte, fileHeaderSize)
	buf[0] = h.Version
	binary.LittleEndian.PutUint32(buf[1:5], h.BlockSize)
	buf[5] = h.Flags
	_, err := w.Write(buf)
	return err
}

// ReadFileHeader reads and validates a file header.
func ReadFileHeader(r io.Reader) (*FileHeader, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}

	buf := make([]byte, fileHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	if buf[0] != Version1 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, buf[0])
	}

	return &FileHeader{
		Version:   buf[0],
		BlockSize: binary.LittleEndian.Uint32(buf[1:5]),
		Flags:     buf[5],
	}, nil
}

// Block payload streams, in the order they follow the block header.
const (
	StreamNames     = iota // uint16 length prefix + name bytes per read
	StreamLengths          // uint32 base count per read
	StreamFlags            // one byte per read, see ReadFlag*
	StreamBases            // uint64 words of 2-bit base codes
	StreamQualIndex        // uint64 words of 2-bit level indices
	StreamLevels           // uint32 level words, one per quality window
	NumStreams
)

// Per-read flags stored in StreamFlags.
const (
	ReadFlagReverse uint8 = 1 << 0 // Read is stored in reverse-complement orientation
	ReadFlagQuality uint8 = 1 << 1 // Read carries quality
)

// BlockHeader precedes each block of reads.
type BlockHeader struct {
	NumReads    uint32             // Number of reads in this block
	StreamSizes [NumStreams]uint32 // Compressed size of each payload stream
	TotalBases  uint32             // Sum of read lengths
	Checksum    uint64             // xxhash64 of the compressed streams, in order
}

// PayloadSize returns the number of payload bytes following the header.
func (b *BlockHeader) PayloadSize() int {
	total := 0
	for _, s := range b.StreamSizes {
		total += int(s)
	}
	return total
}

// Write serializes the block header to the writer.
func (b *BlockHeader) Write(w io.Writer) error {
	buf := make([]byte, blockHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], b.NumReads)
	for i, s := range b.StreamSizes {
		binary.LittleEndian.PutUint32(buf[4+i*4:8+i*4], s)
	}
	binary.LittleEndian.PutUint32(buf[28:32], b.TotalBases)
	binary.LittleEndian.PutUint64(buf[32:40], b.Checksum)
	// buf[40:44] reserved
	_, err := w.Write(buf)
	return err
}

// ReadBlockHeader reads a block header from the reader.
// Returns io.EOF if the reader is exhausted at a block boundary.
func ReadBlockHeader(r io.Reader) (*BlockHeader, error) {
	buf := make([]byte, blockHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &BlockHeader{
		NumReads:   binary.LittleEndian.Uint32(buf[0:4]),
		TotalBases: binary.LittleEndian.Uint32(buf[28:32]),
		Checksum:   binary.LittleEndian.Uint64(buf[32:40]),
	}
	for i := range h.StreamSizes {
		h.StreamSizes[i] = binary.LittleEndian.Uint32(buf[4+i*4 : 8+i*4])
	}
	return h, nil
}

// Checksum hashes the compressed payload streams in order.
func Checksum(streams [][]byte) uint64 {
	d := xxhash.New()
	for _, s := range streams {
		_, _ = d.Write(s)
	}
	return d.Sum64()
}

// ReadPayload reads the block's compressed streams and verifies the checksum.
// Stream buffers grow with the bytes actually read, so sizes from a corrupt
// header cannot force large allocations up front.
func ReadPayload(r io.Reader, h *BlockHeader) ([][]byte, error) {
	streams := make([][]byte, NumStreams)
	for i, size := range h.StreamSizes {
		var buf bytes.Buffer
		n, err := io.CopyN(&buf, r, int64(size))
		if errors.Is(err, io.EOF) && n < int64(size) {
			err = io.ErrUnexpectedEOF
		}
		if err != nil {
			return nil, fmt.Errorf("reading stream %d: %w", i, err)
		}
		streams[i] = buf.Bytes()
	}
	if got := Checksum(streams); got != h.Checksum {
		return nil, fmt.Errorf("%w: got %016x, want %016x", ErrChecksum, got, h.Checksum)
	}
	return streams, nil
}
