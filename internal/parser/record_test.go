package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordReverseComplement(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		data     string
		quality  string
		wantData string
		wantQual string
	}{
		{"ACGT palindrome", "ACGT", "!5?I", "ACGT", "I?5!"},
		{"lowercase folds to upper", "aacg", "", "CGTT", ""},
		{"uracil", "UUA", "", "TAA", ""},
		{"ambiguity codes", "RYKMSWBDHVN", "", "NBDHVWSKMRY", ""},
		{"unknown bytes kept", "A-C", "", "G-T", ""},
		{"empty", "", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := &Record{Data: []byte(tt.data)}
			if tt.quality != "" {
				rec.Quality = []byte(tt.quality)
			}
			rec.ReverseComplement()
			assert.Equal(t, tt.wantData, string(rec.Data))
			assert.Equal(t, tt.wantQual, string(rec.Quality))
		})
	}
}

func TestRecordReverseComplement_Involution(t *testing.T) {
	t.Parallel()

	rec := &Record{Data: []byte("ACGTRYKMBDHVNSW"), Quality: []byte("!\"#$%&'()*+,-./")}
	rec.ReverseComplement()
	rec.ReverseComplement()
	assert.Equal(t, "ACGTRYKMBDHVNSW", string(rec.Data))
	assert.Equal(t, "!\"#$%&'()*+,-./", string(rec.Quality))
}
