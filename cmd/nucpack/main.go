// nucpack packs FASTQ/FASTA reads into NPK containers and unpacks them.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"

	"github.com/vertti/nucpack/internal/compress"
	"github.com/vertti/nucpack/internal/metrics"
)

var version = "dev"

const (
	exitSuccess = 0
	exitError   = 1
)

type config struct {
	unpack      bool
	inputFile   string
	outputFile  string
	toStdout    bool
	blockSize   uint
	workers     int
	skipInvalid bool
	reverse     bool
	metricsFile string
	verbose     bool
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, done := parseFlags()
	if done {
		return exitSuccess
	}

	input, cleanup, err := openInput(cfg.inputFile, cfg.unpack)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitError
	}
	defer cleanup()

	output, cleanup, err := openOutput(cfg.outputFile, cfg.toStdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitError
	}
	defer cleanup()

	var m *metrics.Pipeline
	if cfg.metricsFile != "" {
		m = metrics.New()
	}

	in := &countingReader{r: input}
	out := &countingWriter{w: output}
	start := time.Now()

	if err := execute(cfg, in, out, m); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitError
	}

	if cfg.verbose {
		fmt.Fprintln(os.Stderr, summary(cfg.unpack, in.n, out.n, time.Since(start)))
	}
	if m != nil {
		if err := m.WriteTextfile(cfg.metricsFile); err != nil {
			fmt.Fprintf(os.Stderr, "error: writing metrics: %v\n", err)
			return exitError
		}
	}

	return exitSuccess
}

func parseFlags() (config, bool) {
	var cfg config
	var showVersion, showHelp bool

	flag.BoolVar(&cfg.unpack, "d", false, "unpack mode")
	flag.StringVar(&cfg.inputFile, "i", "", "input file (default: stdin)")
	flag.StringVar(&cfg.outputFile, "o", "", "output file (default: stdout)")
	flag.BoolVar(&cfg.toStdout, "c", false, "write to stdout (pack mode)")
	flag.UintVar(&cfg.blockSize, "b", compress.DefaultBlockSize, "reads per block")
	flag.IntVar(&cfg.workers, "w", 0, "workers (default: NumCPU)")
	flag.BoolVar(&cfg.skipInvalid, "skip-invalid", false, "drop reads with non-ACGT bases instead of failing")
	flag.BoolVar(&cfg.reverse, "rc", false, "store reads reverse-complemented")
	flag.StringVar(&cfg.metricsFile, "metrics", "", "write Prometheus textfile metrics to this path")
	flag.BoolVar(&cfg.verbose, "v", false, "print a size summary to stderr")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")
	flag.BoolVar(&showHelp, "h", false, "show help")

	flag.Usage = usage
	flag.Parse()

	if showHelp {
		flag.Usage()
		return cfg, true
	}

	if showVersion {
		fmt.Printf("nucpack version %s\n", version)
		return cfg, true
	}

	args := flag.Args()
	if len(args) > 0 && cfg.inputFile == "" {
		cfg.inputFile = args[0]
	}
	if len(args) > 1 && cfg.outputFile == "" {
		cfg.outputFile = args[1]
	}

	return cfg, false
}

func usage() {
	fmt.Fprintf(os.Stderr, `nucpack - 2-bit read packing with quantized quality

Usage:
  nucpack [options] [-i input.fq] [-o output.npk]   Pack FASTQ/FASTA
  nucpack -d [-i input.npk] [-o output.fq]          Unpack

Options:
`)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  nucpack -i sample.fq -o sample.npk               Pack file
  nucpack -i sample.fastq.gz -o sample.npk         Pack gzip input
  nucpack -skip-invalid -v -i sample.fq -o s.npk   Drop reads with N, print sizes
  nucpack -d -i sample.npk -o sample.fq            Unpack file
  cat sample.fq | nucpack -c > sample.npk          Pack from stdin
`)
}

func openInput(path string, unpack bool) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		if unpack {
			return os.Stdin, func() {}, nil
		}
		return wrapInputMaybeGzip(path, os.Stdin, func() {})
	}

	f, err := os.Open(path) //nolint:gosec // CLI tool needs to open user-specified files
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open input: %w", err)
	}
	cleanup := func() { _ = f.Close() }
	if unpack {
		return f, cleanup, nil
	}
	return wrapInputMaybeGzip(path, f, cleanup)
}

func wrapInputMaybeGzip(path string, in io.Reader, closeInput func()) (io.Reader, func(), error) {
	br := bufio.NewReaderSize(in, 1<<20)
	hasGzipMagic, err := inputHasGzipMagic(br)
	if err != nil {
		closeInput()
		return nil, nil, fmt.Errorf("cannot inspect input: %w", err)
	}

	if strings.HasSuffix(strings.ToLower(path), ".gz") || hasGzipMagic {
		gz, err := gzip.NewReader(br)
		if err != nil {
			closeInput()
			return nil, nil, fmt.Errorf("cannot open gzip input: %w", err)
		}
		return gz, func() {
			_ = gz.Close()
			closeInput()
		}, nil
	}

	return br, closeInput, nil
}

func inputHasGzipMagic(br *bufio.Reader) (bool, error) {
	header, err := br.Peek(2)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}
	return len(header) == 2 && header[0] == 0x1f && header[1] == 0x8b, nil
}

func openOutput(path string, toStdout bool) (io.Writer, func(), error) {
	if path == "" || path == "-" || toStdout {
		bw := bufio.NewWriterSize(os.Stdout, 1<<20)
		return bw, func() { _ = bw.Flush() }, nil
	}

	f, err := os.Create(path) //nolint:gosec // CLI tool needs to create user-specified files
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create output: %w", err)
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	return bw, func() { _ = bw.Flush(); _ = f.Close() }, nil
}

func execute(cfg config, input io.Reader, output io.Writer, m *metrics.Pipeline) error {
	if cfg.unpack {
		opts := &compress.UnpackOptions{
			Workers: cfg.workers,
			Metrics: m,
		}
		return compress.Unpack(input, output, opts)
	}

	opts := &compress.Options{
		BlockSize:         uint32(cfg.blockSize), //nolint:gosec // bounded by flag default
		Workers:           cfg.workers,
		SkipInvalid:       cfg.skipInvalid,
		ReverseComplement: cfg.reverse,
		Metrics:           m,
	}
	return compress.Pack(input, output, opts)
}

// summary describes a finished run. in counts bytes after gzip decoding.
func summary(unpack bool, in, out uint64, elapsed time.Duration) string {
	verb := "packed"
	if unpack {
		verb = "unpacked"
	}
	s := fmt.Sprintf("%s %s -> %s in %s", verb, humanize.Bytes(in), humanize.Bytes(out), elapsed.Round(time.Millisecond))
	if !unpack && out > 0 {
		s += fmt.Sprintf(" (%.2fx)", float64(in)/float64(out))
	}
	return s
}

type countingReader struct {
	r io.Reader
	n uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += uint64(n) //nolint:gosec // n is never negative
	return n, err
}

type countingWriter struct {
	w io.Writer
	n uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += uint64(n) //nolint:gosec // n is never negative
	return n, err
}
