package encoder

// Phred encoding offsets.
const (
	Phred33Offset = 33
	Phred64Offset = 64
)

// PhredBase is the ASCII byte for Phred score 0 in the packed quality stream.
const PhredBase = '!'

// QualityEncoding represents the quality score encoding scheme.
type QualityEncoding uint8

// Quality encoding schemes.
const (
	EncodingPhred33 QualityEncoding = iota // Sanger/Illumina 1.8+ (offset 33)
	EncodingPhred64                        // Illumina 1.3-1.7 (offset 64)
)

func (e QualityEncoding) offset() byte {
	if e == EncodingPhred64 {
		return Phred64Offset
	}
	return Phred33Offset
}

// DetectEncoding scans quality bytes and returns the likely encoding.
// If any quality byte < 59 (';'), it's definitely Phred+33.
// If minimum byte >= 64 ('@'), it's Phred+64.
// Otherwise (ambiguous 59-63 range), defaults to Phred+33.
func DetectEncoding(qualities [][]byte) QualityEncoding {
	minByte := byte(255)

	for _, qual := range qualities {
		for _, b := range qual {
			if b < minByte {
				minByte = b
			}
			if b < 59 {
				return EncodingPhred33
			}
		}
	}

	if minByte == 255 {
		return EncodingPhred33
	}
	if minByte >= 64 {
		return EncodingPhred64
	}
	return EncodingPhred33
}

// NormalizeQuality converts quality bytes to 0-based values in-place.
func NormalizeQuality(qual []byte, enc QualityEncoding) {
	off := enc.offset()
	for i := range qual {
		qual[i] -= off
	}
}

// DenormalizeQuality converts 0-based values back to ASCII in-place.
func DenormalizeQuality(qual []byte, enc QualityEncoding) {
	off := enc.offset()
	for i := range qual {
		qual[i] += off
	}
}

// ToPhred33 rewrites quality bytes of the given encoding as Phred+33 in-place.
// The quantizer always reads scores relative to PhredBase.
func ToPhred33(qual []byte, enc QualityEncoding) {
	if enc == EncodingPhred33 {
		return
	}
	NormalizeQuality(qual, enc)
	DenormalizeQuality(qual, EncodingPhred33)
}

// FromPhred33 rewrites Phred+33 quality bytes in the given encoding in-place.
func FromPhred33(qual []byte, enc QualityEncoding) {
	if enc == EncodingPhred33 {
		return
	}
	NormalizeQuality(qual, EncodingPhred33)
	DenormalizeQuality(qual, enc)
}
