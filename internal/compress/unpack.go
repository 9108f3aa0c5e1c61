package compress

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/klauspost/compress/zstd"

	"github.com/vertti/nucpack/internal/encoder"
	"github.com/vertti/nucpack/internal/format"
	"github.com/vertti/nucpack/internal/reads"
)

// ErrCorruptBlock is returned when a block's decoded streams are inconsistent.
var ErrCorruptBlock = errors.New("corrupt block")

var streamNames = [format.NumStreams]string{
	format.StreamNames:     "names",
	format.StreamLengths:   "lengths",
	format.StreamFlags:     "flags",
	format.StreamBases:     "bases",
	format.StreamQualIndex: "quality indices",
	format.StreamLevels:    "quality levels",
}

// blockJob is a block read from the container, not yet decompressed.
type blockJob struct {
	header  *format.BlockHeader
	streams [][]byte
}

// decodedRead is one read as stored in a block.
type decodedRead struct {
	name    []byte
	packed  reads.Packed
	quality bool
}

// Unpack reads an NPK container from r and writes FASTQ to w. Reads stored
// without quality are written as FASTA records. Quality is the quantized
// approximation of the original scores.
func Unpack(r io.Reader, w io.Writer, opts *UnpackOptions) error {
	opts = unpackDefaults(opts)

	fileHeader, err := format.ReadFileHeader(r)
	if err != nil {
		return fmt.Errorf("reading file header: %w", err)
	}

	qualEncoding := encoder.EncodingPhred33
	if fileHeader.Flags&format.FlagPhred64 != 0 {
		qualEncoding = encoder.EncodingPhred64
	}

	newWorker := func() (func(blockJob) ([]byte, error), func(), error) {
		zstdDec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		work := func(job blockJob) ([]byte, error) {
			drs, err := decodeBlock(zstdDec, job)
			if err != nil {
				return nil, fmt.Errorf("decoding block: %w", err)
			}
			opts.Metrics.UnpackedReads(len(drs))
			return formatBlock(drs, qualEncoding)
		}
		return work, zstdDec.Close, nil
	}

	emit := func(data []byte) error {
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("writing records: %w", err)
		}
		return nil
	}

	return runOrdered(opts.Workers, produceBlocks(r, opts), newWorker, emit)
}

// Load reads an NPK container into memory. Reads get ordinals from opts.IDs in
// container order.
func Load(r io.Reader, opts *UnpackOptions) ([]*reads.Read, error) {
	opts = unpackDefaults(opts)

	if _, err := format.ReadFileHeader(r); err != nil {
		return nil, fmt.Errorf("reading file header: %w", err)
	}

	newWorker := func() (func(blockJob) ([]decodedRead, error), func(), error) {
		zstdDec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		work := func(job blockJob) ([]decodedRead, error) {
			drs, err := decodeBlock(zstdDec, job)
			if err != nil {
				return nil, fmt.Errorf("decoding block: %w", err)
			}
			return drs, nil
		}
		return work, zstdDec.Close, nil
	}

	var loaded []*reads.Read
	emit := func(drs []decodedRead) error {
		for _, dr := range drs {
			rd, err := reads.FromPacked(opts.IDs.Next(), dr.name, dr.packed)
			if err != nil {
				return fmt.Errorf("read %q: %w", dr.name, err)
			}
			loaded = append(loaded, rd)
		}
		opts.Metrics.UnpackedReads(len(drs))
		return nil
	}

	if err := runOrdered(opts.Workers, produceBlocks(r, opts), newWorker, emit); err != nil {
		return nil, err
	}
	return loaded, nil
}

func unpackDefaults(opts *UnpackOptions) *UnpackOptions {
	if opts == nil {
		opts = &UnpackOptions{}
	}
	if opts.Workers == 0 {
		opts.Workers = runtime.NumCPU()
	}
	return opts
}

// produceBlocks reads blocks from r until EOF, verifying their checksums.
func produceBlocks(r io.Reader, opts *UnpackOptions) func(send func(blockJob) error) error {
	return func(send func(blockJob) error) error {
		for {
			header, err := format.ReadBlockHeader(r)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("reading block header: %w", err)
			}

			streams, err := format.ReadPayload(r, header)
			if err != nil {
				return fmt.Errorf("reading block payload: %w", err)
			}
			opts.Metrics.BlockRead()

			if err := send(blockJob{header: header, streams: streams}); err != nil {
				return err
			}
		}
	}
}

// blockReader tracks offsets while reading decompressed block streams.
type blockReader struct {
	streams [format.NumStreams][]byte
	offsets [format.NumStreams]int
}

func (br *blockReader) take(stream, n int) ([]byte, error) {
	off := br.offsets[stream]
	if n < 0 || off+n > len(br.streams[stream]) {
		return nil, fmt.Errorf("%w: truncated %s data", ErrCorruptBlock, streamNames[stream])
	}
	br.offsets[stream] = off + n
	return br.streams[stream][off : off+n], nil
}

func (br *blockReader) takeWords64(stream, n int) ([]uint64, error) {
	b, err := br.take(stream, n*8)
	if err != nil || n == 0 {
		return nil, err
	}
	words := make([]uint64, n)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(b[i*8:])
	}
	return words, nil
}

func (br *blockReader) takeWords32(stream, n int) ([]uint32, error) {
	b, err := br.take(stream, n*4)
	if err != nil || n == 0 {
		return nil, err
	}
	words := make([]uint32, n)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return words, nil
}

func (br *blockReader) next() (decodedRead, error) {
	var dr decodedRead

	b, err := br.take(format.StreamNames, 2)
	if err != nil {
		return dr, err
	}
	if dr.name, err = br.take(format.StreamNames, int(binary.LittleEndian.Uint16(b))); err != nil {
		return dr, err
	}

	if b, err = br.take(format.StreamLengths, 4); err != nil {
		return dr, err
	}
	n := int(binary.LittleEndian.Uint32(b))
	dr.packed.Length = n

	if b, err = br.take(format.StreamFlags, 1); err != nil {
		return dr, err
	}
	flags := b[0]
	dr.packed.Reverse = flags&format.ReadFlagReverse != 0
	dr.quality = flags&format.ReadFlagQuality != 0

	if dr.packed.Bases, err = br.takeWords64(format.StreamBases, encoder.PackedLen(n)); err != nil {
		return dr, err
	}
	if dr.quality && n > 0 {
		if dr.packed.QualIndex, err = br.takeWords64(format.StreamQualIndex, encoder.PackedLen(n)); err != nil {
			return dr, err
		}
		if dr.packed.Levels, err = br.takeWords32(format.StreamLevels, encoder.WindowCount(n)); err != nil {
			return dr, err
		}
	}
	return dr, nil
}

// decodeBlock decompresses a block and splits it into reads.
func decodeBlock(zstdDec *zstd.Decoder, job blockJob) ([]decodedRead, error) {
	var br blockReader
	for i, s := range job.streams {
		data, err := zstdDec.DecodeAll(s, nil)
		if err != nil {
			return nil, fmt.Errorf("decompressing %s: %w", streamNames[i], err)
		}
		br.streams[i] = data
	}

	drs := make([]decodedRead, 0, job.header.NumReads)
	var totalBases uint64
	for range job.header.NumReads {
		dr, err := br.next()
		if err != nil {
			return nil, err
		}
		totalBases += uint64(dr.packed.Length)
		drs = append(drs, dr)
	}

	if totalBases != uint64(job.header.TotalBases) {
		return nil, fmt.Errorf("%w: %d bases decoded, header says %d", ErrCorruptBlock, totalBases, job.header.TotalBases)
	}
	for i := range br.streams {
		if br.offsets[i] != len(br.streams[i]) {
			return nil, fmt.Errorf("%w: trailing %s data", ErrCorruptBlock, streamNames[i])
		}
	}
	return drs, nil
}

// formatBlock renders decoded reads as FASTQ, or FASTA for reads without quality.
func formatBlock(drs []decodedRead, qualEncoding encoder.QualityEncoding) ([]byte, error) {
	var buf bytes.Buffer
	for _, dr := range drs {
		r, err := reads.FromPacked(0, dr.name, dr.packed)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", dr.name, err)
		}
		writeRecord(&buf, r, dr.quality, qualEncoding)
	}
	return buf.Bytes(), nil
}

func writeRecord(buf *bytes.Buffer, r *reads.Read, withQuality bool, qualEncoding encoder.QualityEncoding) {
	if !withQuality {
		buf.WriteByte('>')
		buf.Write(r.Name())
		buf.WriteByte('\n')
		buf.Write(r.Data())
		buf.WriteByte('\n')
		return
	}

	qual := r.Quality()
	encoder.FromPhred33(qual, qualEncoding)

	buf.WriteByte('@')
	buf.Write(r.Name())
	buf.WriteByte('\n')
	buf.Write(r.Data())
	buf.WriteByte('\n')
	buf.WriteByte('+')
	buf.WriteByte('\n')
	buf.Write(qual)
	buf.WriteByte('\n')
}
