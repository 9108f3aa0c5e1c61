package encoder

// Quality quantization parameters. Both are fixed by the packed layout: a level
// word holds exactly NumLevels bytes and an index is 2 bits wide.
const (
	WindowSize = 1024
	NumLevels  = 4
)

// WindowStats summarizes the Phred values (byte - PhredBase) of one window.
type WindowStats struct {
	Min  byte
	Max  byte
	Avg  byte // truncated mean
	Mode byte // most frequent value, lowest value on ties
}

// WindowOf returns the index of the level word covering quality position i.
// Encode and decode both address windows through this function.
func WindowOf(i int) int {
	return i / WindowSize
}

// WindowCount returns the number of windows for a quality stream of length n.
func WindowCount(n int) int {
	return (n + WindowSize - 1) / WindowSize
}

// ComputeWindowStats builds the frequency distribution of window and derives
// its min, max, truncated mean and mode. window must not be empty.
func ComputeWindowStats(window []byte) WindowStats {
	var freq [256]int
	var sum uint64
	for _, b := range window {
		q := b - PhredBase
		freq[q]++
		sum += uint64(q)
	}

	var s WindowStats
	for q := range freq {
		if freq[q] != 0 {
			s.Min = byte(q)
			break
		}
	}
	for q := len(freq) - 1; q >= 0; q-- {
		if freq[q] != 0 {
			s.Max = byte(q)
			break
		}
	}
	best := 0
	for q := int(s.Min); q <= int(s.Max); q++ {
		if freq[q] > best {
			best = freq[q]
			s.Mode = byte(q)
		}
	}
	s.Avg = byte(sum / uint64(len(window)))
	return s
}

// SelectLevels picks the window's NumLevels representative values, in
// ascending construction order. The mode is always one of them; the remaining
// three are split below and above it, favoring the side the distribution is
// skewed toward.
func SelectLevels(s WindowStats) [NumLevels]byte {
	minQ, maxQ := int(s.Min), int(s.Max)
	avgQ, modQ := int(s.Avg), int(s.Mode)

	quarter := max(1, (maxQ-minQ)/4)
	var lower, upper int
	switch {
	case modQ > avgQ:
		upper = min((maxQ-modQ)/quarter, NumLevels-1)
		lower = NumLevels - 1 - upper
	case modQ < avgQ:
		lower = min((modQ-minQ)/quarter, NumLevels-1)
		upper = NumLevels - 1 - lower
	default:
		lower, upper = 1, 2
	}
	lowerStep := (modQ - minQ) / (lower + 1)
	upperStep := (maxQ - modQ) / (upper + 1)

	var levels [NumLevels]byte
	n := 0
	level := minQ
	for range lower {
		level += lowerStep
		levels[n] = byte(level)
		n++
	}
	level = modQ
	levels[n] = byte(level)
	n++
	for range upper {
		level += upperStep
		levels[n] = byte(level)
		n++
	}
	return levels
}

// PackLevels packs levels into one word by shifting left 8 and OR-ing each
// level in order: levels[0] ends in the most significant byte and
// levels[NumLevels-1] in the least significant one.
func PackLevels(levels [NumLevels]byte) uint32 {
	var word uint32
	for _, l := range levels {
		word = word<<8 | uint32(l)
	}
	return word
}

// LevelAt returns the level selected by a 2-bit index. Index 0 is the least
// significant byte, i.e. the last level packed.
func LevelAt(word uint32, index byte) byte {
	return byte(word >> (uint(index) * 8))
}

// UnpackLevels is the inverse of PackLevels.
func UnpackLevels(word uint32) [NumLevels]byte {
	var levels [NumLevels]byte
	for j := range levels {
		levels[j] = LevelAt(word, byte(NumLevels-1-j))
	}
	return levels
}

// NearestIndex returns the 2-bit index of the level closest to q. Ties go to
// the lower level.
func NearestIndex(levels [NumLevels]byte, q byte) byte {
	best := 0
	bestDist := absDiff(levels[0], q)
	for j := 1; j < NumLevels; j++ {
		if d := absDiff(levels[j], q); d < bestDist {
			best, bestDist = j, d
		}
	}
	return byte(NumLevels - 1 - best)
}

func absDiff(a, b byte) byte {
	if a > b {
		return a - b
	}
	return b - a
}

// QuantizeQuality quantizes a Phred+33 quality stream. See AppendQuantizedQuality.
func QuantizeQuality(qual []byte) (idx []uint64, levels []uint32) {
	if len(qual) == 0 {
		return nil, nil
	}
	return AppendQuantizedQuality(
		make([]uint64, 0, PackedLen(len(qual))),
		make([]uint32, 0, WindowCount(len(qual))),
		qual,
	)
}

// AppendQuantizedQuality appends one level word per WindowSize scores to levels
// and one 2-bit level index per score to idx, packed like bases. Only the
// current window's statistics are held while encoding.
func AppendQuantizedQuality(idx []uint64, levels []uint32, qual []byte) ([]uint64, []uint32) {
	if len(qual) == 0 {
		return idx, levels
	}

	var word uint64
	for start := 0; start < len(qual); start += WindowSize {
		end := min(start+WindowSize, len(qual))
		lv := SelectLevels(ComputeWindowStats(qual[start:end]))
		levels = append(levels, PackLevels(lv))

		for j := start; j < end; j++ {
			c := NearestIndex(lv, qual[j]-PhredBase)
			word |= uint64(c) << ((j % BasesPerWord) * 2)
			if (j+1)%BasesPerWord == 0 {
				idx = append(idx, word)
				word = 0
			}
		}
	}
	if len(qual)%BasesPerWord != 0 {
		idx = append(idx, word)
	}
	return idx, levels
}

// QualityScore decodes the Phred value at position i.
func QualityScore(idx []uint64, levels []uint32, i int) byte {
	return LevelAt(levels[WindowOf(i)], BaseCode(idx, i))
}

// AppendUnpackQuality appends the first n decoded scores to dst as Phred+33 ASCII.
func AppendUnpackQuality(dst []byte, idx []uint64, levels []uint32, n int) []byte {
	for i := range n {
		dst = append(dst, QualityScore(idx, levels, i)+PhredBase)
	}
	return dst
}
