// Package parser provides fast FASTQ and FASTA record parsing.
package parser

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// Parse errors.
var (
	ErrInvalidHeader    = errors.New("invalid record: header line must start with @ or >")
	ErrInvalidSeparator = errors.New("invalid FASTQ: separator line must start with +")
	ErrLengthMismatch   = errors.New("invalid FASTQ: sequence and quality lengths must match")
	ErrTruncated        = errors.New("invalid FASTQ: truncated record")
)

// Parser reads FASTQ or FASTA records from an input stream. The format is
// chosen per record from the header's leading '@' or '>'.
type Parser struct {
	reader *bufio.Reader
	line   []byte // reusable buffer for reading lines
}

// New creates a new parser.
func New(r io.Reader) *Parser {
	return &Parser{
		reader: bufio.NewReaderSize(r, 1<<20), // 1MB buffer
		line:   make([]byte, 0, 512),
	}
}

// Next reads and returns the next record.
// Returns io.EOF when no more records are available.
func (p *Parser) Next() (*Record, error) {
	rec := &Record{}
	if _, err := p.nextInto(rec, nil); err != nil {
		return nil, err
	}
	return rec, nil
}

// NextBatch reads up to n records into a batch.
// If fewer than n records are available, returns what's available.
func (p *Parser) NextBatch(n int) ([]*Record, error) {
	// One contiguous slab of Records instead of n allocations
	slab := make([]Record, n)
	batch := make([]*Record, 0, n)

	// Typical Illumina reads are ~150bp, so estimate 300 bytes per record (seq+qual).
	dataBuf := make([]byte, 0, n*300)

	for i := 0; i < n; i++ {
		var err error
		dataBuf, err = p.nextInto(&slab[i], dataBuf)
		if err != nil {
			if errors.Is(err, io.EOF) && len(batch) > 0 {
				return batch, nil
			}
			return batch, err
		}
		batch = append(batch, &slab[i])
	}
	return batch, nil
}

// carve appends b to buf and returns the grown buffer with a capacity-capped
// view of the appended bytes. Earlier views stay valid if buf reallocates.
func carve(buf, b []byte) ([]byte, []byte) {
	start := len(buf)
	buf = append(buf, b...)
	return buf, buf[start:len(buf):len(buf)]
}

// nextInto parses a record into rec, appending its bytes to dataBuf and
// slicing from it. Returns the updated dataBuf.
func (p *Parser) nextInto(rec *Record, dataBuf []byte) ([]byte, error) {
	line, err := p.readHeader()
	if err != nil {
		return dataBuf, err
	}

	switch line[0] {
	case '@':
		dataBuf, rec.Name = carve(dataBuf, line[1:])
		return p.fastqBody(rec, dataBuf)
	case '>':
		dataBuf, rec.Name = carve(dataBuf, line[1:])
		return p.fastaBody(rec, dataBuf)
	default:
		return dataBuf, ErrInvalidHeader
	}
}

func (p *Parser) fastqBody(rec *Record, dataBuf []byte) ([]byte, error) {
	// Line 2: Sequence
	line, err := p.readBodyLine()
	if err != nil {
		return dataBuf, err
	}
	dataBuf, rec.Data = carve(dataBuf, line)

	// Line 3: Plus line (content ignored)
	line, err = p.readBodyLine()
	if err != nil {
		return dataBuf, err
	}
	if len(line) == 0 || line[0] != '+' {
		return dataBuf, ErrInvalidSeparator
	}

	// Line 4: Quality scores
	line, err = p.readBodyLine()
	if err != nil {
		return dataBuf, err
	}
	dataBuf, rec.Quality = carve(dataBuf, line)

	if len(rec.Data) != len(rec.Quality) {
		return dataBuf, ErrLengthMismatch
	}
	return dataBuf, nil
}

// fastaBody joins sequence lines up to the next header line or EOF.
func (p *Parser) fastaBody(rec *Record, dataBuf []byte) ([]byte, error) {
	start := len(dataBuf)
	for {
		next, err := p.reader.Peek(1)
		if errors.Is(err, io.EOF) || (err == nil && (next[0] == '>' || next[0] == '@')) {
			break
		}
		if err != nil {
			return dataBuf, err
		}
		line, err := p.readLine()
		if err != nil {
			return dataBuf, err
		}
		dataBuf = append(dataBuf, line...)
	}
	rec.Data = dataBuf[start:len(dataBuf):len(dataBuf)]
	rec.Quality = nil
	return dataBuf, nil
}

// readHeader returns the next non-empty line.
func (p *Parser) readHeader() ([]byte, error) {
	for {
		line, err := p.readLine()
		if err != nil {
			return nil, err
		}
		if len(line) > 0 {
			return line, nil
		}
	}
}

// readBodyLine reads a line that must exist because a record is open.
func (p *Parser) readBodyLine() ([]byte, error) {
	line, err := p.readLine()
	if errors.Is(err, io.EOF) {
		return nil, ErrTruncated
	}
	return line, err
}

// readLine reads a line from the input, stripping the newline.
// Reuses an internal buffer to minimize allocations.
func (p *Parser) readLine() ([]byte, error) {
	p.line = p.line[:0]

	for {
		segment, isPrefix, err := p.reader.ReadLine()
		if err != nil {
			return nil, err
		}

		p.line = append(p.line, segment...)

		if !isPrefix {
			break
		}
	}

	// Trim any trailing CR (for Windows line endings)
	p.line = bytes.TrimSuffix(p.line, []byte{'\r'})

	return p.line, nil
}
