package compress

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertti/nucpack/internal/encoder"
	"github.com/vertti/nucpack/internal/format"
	"github.com/vertti/nucpack/internal/metrics"
	"github.com/vertti/nucpack/internal/reads"
)

type testRecord struct {
	name string
	seq  string
	qual string
}

func fastq(recs []testRecord) string {
	var b strings.Builder
	for _, r := range recs {
		fmt.Fprintf(&b, "@%s\n%s\n+\n%s\n", r.name, r.seq, r.qual)
	}
	return b.String()
}

// quantizedFASTQ renders recs the way Unpack returns them: bases exact and
// quality replaced by its quantized approximation.
func quantizedFASTQ(t *testing.T, recs []testRecord, rc bool) string {
	t.Helper()

	var b strings.Builder
	for _, rec := range recs {
		r, err := reads.NewWithQuality(nil, []byte(rec.name), []byte(rec.seq), []byte(rec.qual))
		require.NoError(t, err)
		if rc {
			r.ReverseComplement()
		}
		fmt.Fprintf(&b, "@%s\n%s\n+\n%s\n", rec.name, r.Data(), r.Quality())
	}
	return b.String()
}

func randomRecords(rng *rand.Rand, n, minLen, maxLen int) []testRecord {
	recs := make([]testRecord, n)
	for i := range recs {
		length := minLen + rng.IntN(maxLen-minLen+1)
		seq := make([]byte, length)
		qual := make([]byte, length)
		for j := range seq {
			seq[j] = "ACGT"[rng.IntN(4)]
			qual[j] = byte('#' + rng.IntN(39))
		}
		recs[i] = testRecord{name: fmt.Sprintf("read_%d", i), seq: string(seq), qual: string(qual)}
	}
	return recs
}

func pack(t *testing.T, input string, opts *Options) []byte {
	t.Helper()
	var packed bytes.Buffer
	require.NoError(t, Pack(strings.NewReader(input), &packed, opts))
	return packed.Bytes()
}

func unpack(t *testing.T, packed []byte, opts *UnpackOptions) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, Unpack(bytes.NewReader(packed), &out, opts))
	return out.String()
}

func TestPackUnpack_UniformQualityIsExact(t *testing.T) {
	t.Parallel()

	input := `@SEQ_1
ACGTACGTACGTACGT
+
IIIIIIIIIIIIIIII
@SEQ_2
CCCCCCCCCCCCCCCC
+
################
`
	assert.Equal(t, input, unpack(t, pack(t, input, nil), nil))
}

func TestPackUnpack_QuantizedQuality(t *testing.T) {
	t.Parallel()

	recs := []testRecord{
		{name: "SEQ_1", seq: "ACGTTGCA", qual: "!#+5?IIA"},
		{name: "HWI-ST123:4:1101:14346:1976#0/1", seq: "GATTACA", qual: "IIII###"},
		{name: "empty", seq: "", qual: ""},
	}
	got := unpack(t, pack(t, fastq(recs), nil), nil)
	assert.Equal(t, quantizedFASTQ(t, recs, false), got)
}

func TestPackUnpack_LongReadsSpanWindows(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	recs := randomRecords(rng, 5, encoder.WindowSize-1, 3*encoder.WindowSize+7)

	got := unpack(t, pack(t, fastq(recs), nil), nil)
	assert.Equal(t, quantizedFASTQ(t, recs, false), got)
}

func TestPackUnpack_FASTA(t *testing.T) {
	t.Parallel()

	input := ">chr1 test\nACGTACGT\nGGCC\n>chr2\nTTTT\n"
	want := ">chr1 test\nACGTACGTGGCC\n>chr2\nTTTT\n"

	packed := pack(t, input, nil)
	header, err := format.ReadFileHeader(bytes.NewReader(packed))
	require.NoError(t, err)
	assert.Zero(t, header.Flags&format.FlagQuality)

	assert.Equal(t, want, unpack(t, packed, nil))
}

func TestPack_InvalidBase(t *testing.T) {
	t.Parallel()

	input := "@ok\nACGT\n+\nIIII\n@bad\nACNT\n+\nIIII\n"

	t.Run("fails by default", func(t *testing.T) {
		t.Parallel()
		var packed bytes.Buffer
		err := Pack(strings.NewReader(input), &packed, nil)
		require.ErrorIs(t, err, encoder.ErrInvalidAlphabet)
		assert.Contains(t, err.Error(), `"bad"`)
	})

	t.Run("skipped when requested", func(t *testing.T) {
		t.Parallel()
		m := metrics.New()
		packed := pack(t, input, &Options{SkipInvalid: true, Metrics: m})

		assert.Equal(t, "@ok\nACGT\n+\nIIII\n", unpack(t, packed, nil))
		assert.InDelta(t, 1, testutil.ToFloat64(m.ReadsSkipped), 0)
		assert.InDelta(t, 1, testutil.ToFloat64(m.ReadsPacked), 0)
		assert.InDelta(t, 4, testutil.ToFloat64(m.BasesPacked), 0)
	})

	t.Run("all skipped writes no blocks", func(t *testing.T) {
		t.Parallel()
		m := metrics.New()
		packed := pack(t, "@bad\nNNNN\n+\nIIII\n", &Options{SkipInvalid: true, Metrics: m})

		assert.Empty(t, unpack(t, packed, nil))
		assert.InDelta(t, 0, testutil.ToFloat64(m.Blocks.WithLabelValues("write")), 0)
	})
}

func TestPackUnpack_ReverseComplement(t *testing.T) {
	t.Parallel()

	recs := []testRecord{
		{name: "r1", seq: "AACCGGTTA", qual: "!!##55IIA"},
		{name: "r2", seq: "ACGT", qual: "IIII"},
	}
	packed := pack(t, fastq(recs), &Options{ReverseComplement: true})

	got := unpack(t, packed, nil)
	assert.Equal(t, quantizedFASTQ(t, recs, true), got)
	assert.Contains(t, got, "@r1\nTAACCGGTT\n")
	assert.Contains(t, got, "@r2\nACGT\n")

	loaded, err := Load(bytes.NewReader(packed), nil)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.True(t, loaded[0].IsReverseComplement())
}

func TestPackUnpack_MultipleBlocks(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(3, 4))
	recs := randomRecords(rng, 257, 1, 300)
	input := fastq(recs)
	want := quantizedFASTQ(t, recs, false)

	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			t.Parallel()

			m := metrics.New()
			packed := pack(t, input, &Options{BlockSize: 10, Workers: workers, Metrics: m})
			assert.InDelta(t, 26, testutil.ToFloat64(m.Blocks.WithLabelValues("write")), 0)

			got := unpack(t, packed, &UnpackOptions{Workers: workers, Metrics: m})
			assert.Equal(t, want, got)
			assert.InDelta(t, 26, testutil.ToFloat64(m.Blocks.WithLabelValues("read")), 0)
			assert.InDelta(t, 257, testutil.ToFloat64(m.ReadsUnpacked), 0)
		})
	}
}

func TestPackUnpack_ManyWorkersSmallInput(t *testing.T) {
	t.Parallel()

	input := "@a\nACGT\n+\nIIII\n@b\nTTTT\n+\n####\n"
	packed := pack(t, input, &Options{Workers: 16})
	assert.Equal(t, input, unpack(t, packed, &UnpackOptions{Workers: 16}))
}

func TestPackUnpack_EmptyInput(t *testing.T) {
	t.Parallel()

	packed := pack(t, "", nil)
	assert.Len(t, packed, len(format.Magic)+6)
	assert.Empty(t, unpack(t, packed, nil))
}

func TestPackUnpack_Phred64(t *testing.T) {
	t.Parallel()

	// Phred+64: Q40='h', Q10='J'
	input := "@p64\nACGTACGT\n+\nhhhhhhhh\n@p64b\nGGGG\n+\nJJJJ\n"

	packed := pack(t, input, nil)
	header, err := format.ReadFileHeader(bytes.NewReader(packed))
	require.NoError(t, err)
	assert.NotZero(t, header.Flags&format.FlagPhred64)

	assert.Equal(t, input, unpack(t, packed, nil))

	loaded, err := Load(bytes.NewReader(packed), nil)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, byte(40), loaded[0].Score(0))
	assert.Equal(t, byte(10), loaded[1].Score(3))
}

func TestLoad(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(5, 6))
	recs := randomRecords(rng, 40, 0, 2100)
	packed := pack(t, fastq(recs), &Options{BlockSize: 7, Workers: 3})

	ids := reads.NewIDSource(100)
	loaded, err := Load(bytes.NewReader(packed), &UnpackOptions{Workers: 3, IDs: ids})
	require.NoError(t, err)
	require.Len(t, loaded, len(recs))

	for i, r := range loaded {
		rec := recs[i]
		assert.Equal(t, uint64(100+i), r.ID())
		assert.Equal(t, rec.name, string(r.Name()))
		assert.Equal(t, rec.seq, string(r.Data()))

		want, err := reads.NewWithQuality(nil, nil, []byte(rec.seq), []byte(rec.qual))
		require.NoError(t, err)
		assert.Equal(t, want.Quality(), r.Quality())
	}
	assert.Equal(t, uint64(140), ids.Peek())
}

func TestUnpack_Corruption(t *testing.T) {
	t.Parallel()

	packed := pack(t, "@a\nACGTACGT\n+\nIIII####\n", nil)
	const blockStart = 4 + 6

	tests := []struct {
		name    string
		mutate  func([]byte) []byte
		wantErr error
	}{
		{
			name:    "bad magic",
			mutate:  func(b []byte) []byte { b[0] = 'X'; return b },
			wantErr: format.ErrInvalidMagic,
		},
		{
			name:    "payload bit flip",
			mutate:  func(b []byte) []byte { b[len(b)-1] ^= 0x01; return b },
			wantErr: format.ErrChecksum,
		},
		{
			name:    "wrong base total",
			mutate:  func(b []byte) []byte { b[blockStart+28]++; return b },
			wantErr: ErrCorruptBlock,
		},
		{
			name:    "wrong read count",
			mutate:  func(b []byte) []byte { b[blockStart]++; return b },
			wantErr: ErrCorruptBlock,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data := tt.mutate(bytes.Clone(packed))

			var out bytes.Buffer
			err := Unpack(bytes.NewReader(data), &out, nil)
			require.ErrorIs(t, err, tt.wantErr)

			_, err = Load(bytes.NewReader(data), nil)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestUnpack_TruncatedBlock(t *testing.T) {
	t.Parallel()

	packed := pack(t, "@a\nACGT\n+\nIIII\n", nil)

	var out bytes.Buffer
	err := Unpack(bytes.NewReader(packed[:len(packed)-3]), &out, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading block payload")
}

func BenchmarkPack(b *testing.B) {
	rng := rand.New(rand.NewPCG(7, 8))
	data := []byte(fastq(randomRecords(rng, 10000, 150, 150)))

	b.SetBytes(int64(len(data)))
	for b.Loop() {
		var packed bytes.Buffer
		_ = Pack(bytes.NewReader(data), &packed, nil)
	}
}

func BenchmarkUnpack(b *testing.B) {
	rng := rand.New(rand.NewPCG(9, 10))
	var packed bytes.Buffer
	_ = Pack(strings.NewReader(fastq(randomRecords(rng, 10000, 150, 150))), &packed, nil)
	data := packed.Bytes()

	b.SetBytes(int64(len(data)))
	for b.Loop() {
		var out bytes.Buffer
		_ = Unpack(bytes.NewReader(data), &out, nil)
	}
}
