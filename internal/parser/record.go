package parser

// Record is a plain-text sequencing record. Quality is nil for FASTA input.
type Record struct {
	Name    []byte // Header line without the leading '@' or '>'
	Data    []byte // Nucleotide sequence
	Quality []byte // Quality scores (Phred+33 encoded), nil if absent
}

// complementTable maps IUPAC nucleotide codes to their complements.
// Unlisted bytes map to themselves.
var complementTable [256]byte

func init() {
	for i := range complementTable {
		complementTable[i] = byte(i)
	}
	pairs := []struct{ from, to byte }{
		{'A', 'T'}, {'a', 'T'},
		{'C', 'G'}, {'c', 'G'},
		{'G', 'C'}, {'g', 'C'},
		{'T', 'A'}, {'t', 'A'}, {'U', 'A'},
		{'R', 'Y'}, // A or G
		{'Y', 'R'}, // C or T
		{'K', 'M'}, // G or T
		{'M', 'K'}, // A or C
		{'B', 'V'}, // not A
		{'V', 'B'}, // not T
		{'D', 'H'}, // not C
		{'H', 'D'}, // not G
	}
	for _, p := range pairs {
		complementTable[p.from] = p.to
	}
}

// ReverseComplement complements the sequence in place over the IUPAC alphabet
// and reverses both sequence and quality. S, W and N are their own complements.
func (r *Record) ReverseComplement() {
	for i := range r.Data {
		r.Data[i] = complementTable[r.Data[i]]
	}
	reverse(r.Data)
	reverse(r.Quality)
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
