// nuclevels reports the quality levels chosen for each window of each read in
// a FASTQ file, and how far the quantized scores land from the originals.
//
// Output is one tab-separated line per read:
//
//	name  length  windows  levels  mean_abs_error
//
// where levels lists each window's four levels as w0:a,b,c,d w1:...
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"

	"github.com/vertti/nucpack/internal/encoder"
	"github.com/vertti/nucpack/internal/parser"
	"github.com/vertti/nucpack/internal/reads"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		inputFile  = flag.String("i", "", "input FASTQ file (supports .gz)")
		outputFile = flag.String("o", "", "output report (default: stdout)")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `nuclevels - Inspect quality quantization

Prints the four levels selected for every 1024-score window of each read
and the mean absolute error between original and quantized scores.

Usage:
  nuclevels -i input.fastq.gz -o levels.tsv
  zcat input.fastq.gz | nuclevels > levels.tsv

Options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if *inputFile == "" && flag.NArg() > 0 {
		*inputFile = flag.Arg(0)
	}

	reader, cleanup, err := openInput(*inputFile)
	if err != nil {
		return err
	}
	defer cleanup()

	writer, cleanup, err := openOutput(*outputFile)
	if err != nil {
		return err
	}
	defer cleanup()

	t, err := report(reader, writer)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%s reads, %s scores, mean abs error %.3f\n",
		humanize.Comma(int64(t.reads)), humanize.Comma(int64(t.scores)), t.meanError()) //nolint:gosec // counts fit in int64
	return nil
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}

	f, err := os.Open(path) //nolint:gosec // CLI tool needs to open user-specified files
	if err != nil {
		return nil, nil, fmt.Errorf("opening input: %w", err)
	}

	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return gz, func() { _ = gz.Close(); _ = f.Close() }, nil
	}

	return f, func() { _ = f.Close() }, nil
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}

	f, err := os.Create(path) //nolint:gosec // CLI tool needs to create user-specified files
	if err != nil {
		return nil, nil, fmt.Errorf("creating output: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// totals accumulates quantization error over all reads.
type totals struct {
	reads    uint64
	scores   uint64
	absError uint64
}

func (t totals) meanError() float64 {
	if t.scores == 0 {
		return 0
	}
	return float64(t.absError) / float64(t.scores)
}

// detectBatchSize is how many leading records decide the quality encoding.
const detectBatchSize = 10000

// report writes one line per FASTQ record. FASTA records have no quality and
// are reported with zero windows. Phred+64 input is converted to Phred+33
// before quantizing, as nucpack does.
func report(r io.Reader, w io.Writer) (totals, error) {
	var t totals
	p := parser.New(r)

	bw := bufio.NewWriter(w)
	defer bw.Flush()

	first, err := p.NextBatch(detectBatchSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return t, fmt.Errorf("reading input: %w", err)
	}
	qualities := make([][]byte, 0, len(first))
	for _, rec := range first {
		if rec.Quality != nil {
			qualities = append(qualities, rec.Quality)
		}
	}
	enc := encoder.DetectEncoding(qualities)

	for _, rec := range first {
		if err := reportRecord(bw, rec, enc, &t); err != nil {
			return t, err
		}
	}
	if errors.Is(err, io.EOF) {
		return t, bw.Flush()
	}

	for {
		rec, err := p.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return t, fmt.Errorf("reading input: %w", err)
		}
		if err := reportRecord(bw, rec, enc, &t); err != nil {
			return t, err
		}
	}

	return t, bw.Flush()
}

func reportRecord(w io.Writer, rec *parser.Record, enc encoder.QualityEncoding, t *totals) error {
	encoder.ToPhred33(rec.Quality, enc)
	rd, err := reads.NewWithQuality(nil, rec.Name, rec.Data, rec.Quality)
	if err != nil {
		return fmt.Errorf("read %q: %w", rec.Name, err)
	}

	absError := quantizationError(rec.Quality, rd.Quality())
	t.reads++
	t.scores += uint64(len(rec.Quality))
	t.absError += absError

	mean := 0.0
	if len(rec.Quality) > 0 {
		mean = float64(absError) / float64(len(rec.Quality))
	}
	levels := rd.Packed().Levels
	_, err = fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%.3f\n", rec.Name, rd.Len(), len(levels), formatLevels(levels), mean)
	return err
}

// formatLevels renders each window's levels in construction order.
func formatLevels(words []uint32) string {
	if len(words) == 0 {
		return "-"
	}
	var b strings.Builder
	for i, word := range words {
		if i > 0 {
			b.WriteByte(' ')
		}
		lv := encoder.UnpackLevels(word)
		fmt.Fprintf(&b, "w%d:%d,%d,%d,%d", i, lv[0], lv[1], lv[2], lv[3])
	}
	return b.String()
}

func quantizationError(orig, quant []byte) uint64 {
	var sum uint64
	for i := range quant {
		if orig[i] > quant[i] {
			sum += uint64(orig[i] - quant[i])
		} else {
			sum += uint64(quant[i] - orig[i])
		}
	}
	return sum
}
