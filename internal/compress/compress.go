// Package compress packs FASTQ/FASTA reads into NPK containers, unpacks them
// back to text and loads them as in-memory reads.
package compress

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"runtime"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/vertti/nucpack/internal/encoder"
	"github.com/vertti/nucpack/internal/format"
	"github.com/vertti/nucpack/internal/metrics"
	"github.com/vertti/nucpack/internal/parser"
	"github.com/vertti/nucpack/internal/reads"
)

// DefaultBlockSize is the default number of reads per block.
const DefaultBlockSize = 100000

// Options configures packing behavior.
type Options struct {
	BlockSize         uint32            // Reads per block (default: 100000)
	Workers           int               // Number of parallel packing workers (default: NumCPU)
	SkipInvalid       bool              // Drop reads with non-ACGT bases instead of failing
	ReverseComplement bool              // Store every read in reverse-complement orientation
	Metrics           *metrics.Pipeline // Optional counters
}

// UnpackOptions configures Unpack and Load.
type UnpackOptions struct {
	Workers int               // Number of parallel decoding workers (default: NumCPU)
	IDs     *reads.IDSource   // Ordinal source for loaded reads (Load only)
	Metrics *metrics.Pipeline // Optional counters
}

// blockBuffers holds reusable buffers for block packing.
// Pooled via sync.Pool to avoid allocations across blocks.
type blockBuffers struct {
	streams    [format.NumStreams][]byte
	compressed [format.NumStreams][]byte
	outputBuf  bytes.Buffer
}

var blockBufferPool = sync.Pool{
	New: func() any {
		return &blockBuffers{}
	},
}

func (b *blockBuffers) reset() {
	for i := range b.streams {
		b.streams[i] = b.streams[i][:0]
		b.compressed[i] = b.compressed[i][:0]
	}
	b.outputBuf.Reset()
}

// appendRead serializes one read's packed buffers into the block streams.
func (b *blockBuffers) appendRead(r *reads.Read, hasQuality bool) error {
	name := r.Name()
	if len(name) > math.MaxUint16 {
		return fmt.Errorf("read name too long: %d bytes", len(name))
	}
	b.streams[format.StreamNames] = binary.LittleEndian.AppendUint16(b.streams[format.StreamNames], uint16(len(name)))
	b.streams[format.StreamNames] = append(b.streams[format.StreamNames], name...)
	b.streams[format.StreamLengths] = binary.LittleEndian.AppendUint32(b.streams[format.StreamLengths], uint32(r.Len())) //nolint:gosec // read length bounded by input line

	var flags uint8
	if r.IsReverseComplement() {
		flags |= format.ReadFlagReverse
	}
	if hasQuality {
		flags |= format.ReadFlagQuality
	}
	b.streams[format.StreamFlags] = append(b.streams[format.StreamFlags], flags)

	p := r.Packed()
	for _, w := range p.Bases {
		b.streams[format.StreamBases] = binary.LittleEndian.AppendUint64(b.streams[format.StreamBases], w)
	}
	for _, w := range p.QualIndex {
		b.streams[format.StreamQualIndex] = binary.LittleEndian.AppendUint64(b.streams[format.StreamQualIndex], w)
	}
	for _, l := range p.Levels {
		b.streams[format.StreamLevels] = binary.LittleEndian.AppendUint32(b.streams[format.StreamLevels], l)
	}
	return nil
}

// Pack reads FASTQ or FASTA from r and writes an NPK container to w.
func Pack(r io.Reader, w io.Writer, opts *Options) error {
	if opts == nil {
		opts = &Options{}
	}
	if opts.BlockSize == 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.Workers == 0 {
		opts.Workers = runtime.NumCPU()
	}

	// Parse first batch to detect quality encoding
	p := parser.New(r)
	firstBatch, err := p.NextBatch(int(opts.BlockSize))
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing input: %w", err)
	}
	firstBatchEOF := errors.Is(err, io.EOF)

	qualEncoding := encoder.EncodingPhred33
	header := format.FileHeader{
		Version:   format.CurrentVersion,
		BlockSize: opts.BlockSize,
	}
	if len(firstBatch) > 0 {
		qualities := make([][]byte, 0, len(firstBatch))
		for _, rec := range firstBatch {
			if rec.Quality != nil {
				qualities = append(qualities, rec.Quality)
			}
		}
		if len(qualities) > 0 {
			header.Flags |= format.FlagQuality
			qualEncoding = encoder.DetectEncoding(qualities)
		}
	}
	if qualEncoding == encoder.EncodingPhred64 {
		header.Flags |= format.FlagPhred64
	}
	if err := header.Write(w); err != nil {
		return fmt.Errorf("writing file header: %w", err)
	}

	produce := func(send func([]*parser.Record) error) error {
		if len(firstBatch) > 0 {
			if err := send(firstBatch); err != nil {
				return err
			}
		}
		if firstBatchEOF {
			return nil
		}

		for {
			batch, err := p.NextBatch(int(opts.BlockSize))
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("parsing input: %w", err)
			}
			if len(batch) == 0 {
				return nil
			}
			if err := send(batch); err != nil {
				return err
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
		}
	}

	newWorker := func() (func([]*parser.Record) ([]byte, error), func(), error) {
		zstdEnc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		work := func(records []*parser.Record) ([]byte, error) {
			data, err := packBlock(records, zstdEnc, qualEncoding, opts)
			if err != nil {
				return nil, fmt.Errorf("packing block: %w", err)
			}
			return data, nil
		}
		return work, func() { _ = zstdEnc.Close() }, nil
	}

	emit := func(data []byte) error {
		if len(data) == 0 {
			return nil
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("writing block: %w", err)
		}
		return nil
	}

	return runOrdered(opts.Workers, produce, newWorker, emit)
}

// packRecord builds the packed read for one parsed record.
func packRecord(rec *parser.Record, qualEncoding encoder.QualityEncoding, opts *Options) (*reads.Read, error) {
	if rec.Quality != nil {
		encoder.ToPhred33(rec.Quality, qualEncoding)
	}
	r, err := reads.NewWithQuality(nil, rec.Name, rec.Data, rec.Quality)
	if err != nil {
		return nil, err
	}
	if opts.ReverseComplement {
		r.ReverseComplement()
	}
	return r, nil
}

// packBlock packs records into one serialized block. Returns nil if every
// record was skipped.
func packBlock(records []*parser.Record, zstdEnc *zstd.Encoder, qualEncoding encoder.QualityEncoding, opts *Options) ([]byte, error) {
	bufs := blockBufferPool.Get().(*blockBuffers) //nolint:errcheck // pool always returns *blockBuffers
	bufs.reset()
	defer blockBufferPool.Put(bufs)

	var header format.BlockHeader
	for _, rec := range records {
		r, err := packRecord(rec, qualEncoding, opts)
		if err != nil {
			if opts.SkipInvalid && errors.Is(err, encoder.ErrInvalidAlphabet) {
				opts.Metrics.SkippedRead()
				continue
			}
			return nil, fmt.Errorf("read %q: %w", rec.Name, err)
		}
		if err := bufs.appendRead(r, rec.Quality != nil); err != nil {
			return nil, fmt.Errorf("read %q: %w", rec.Name, err)
		}
		header.NumReads++
		header.TotalBases += uint32(r.Len()) //nolint:gosec // bounded by block size and read length
		opts.Metrics.PackedRead(r.Len())
	}
	if header.NumReads == 0 {
		return nil, nil
	}

	// Compress each stream with zstd, reusing destination slices
	streams := make([][]byte, format.NumStreams)
	for i := range bufs.streams {
		bufs.compressed[i] = zstdEnc.EncodeAll(bufs.streams[i], bufs.compressed[i][:0])
		header.StreamSizes[i] = uint32(len(bufs.compressed[i])) //nolint:gosec // bounded by block size
		streams[i] = bufs.compressed[i]
	}
	header.Checksum = format.Checksum(streams)

	if err := header.Write(&bufs.outputBuf); err != nil {
		return nil, err
	}
	for _, s := range streams {
		bufs.outputBuf.Write(s)
	}
	opts.Metrics.BlockWritten()

	// Copy output so the pooled buffer can be reused
	return bytes.Clone(bufs.outputBuf.Bytes()), nil
}
