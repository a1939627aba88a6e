package audio

const (
	mulawBias = 0x84
	mulawClip = 32635
)

var mulawDecodeTable = buildMulawTable()

func buildMulawTable() [256]int16 {
	var table [256]int16
	for i := 0; i < 256; i++ {
		table[i] = decodeMulawSample(byte(i))
	}
	return table
}

func decodeMulawSample(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := int32(u>>4) & 0x07
	mantissa := int32(u & 0x0F)
	sample := (((mantissa << 3) + mulawBias) << exponent) - mulawBias
	if sign != 0 {
		sample = -sample
	}
	return int16(sample)
}

func encodeMulawSample(s int16) byte {
	v := int32(s)
	var sign byte
	if v < 0 {
		sign = 0x80
		v = -v
	}
	if v > mulawClip {
		v = mulawClip
	}
	v += mulawBias

	exponent := int32(7)
	for mask := int32(0x4000); exponent > 0 && v&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := (v >> (exponent + 3)) & 0x0F
	return ^(sign | byte(exponent<<4) | byte(mantissa))
}

// DecodeMulaw expands G.711 µ-law bytes into PCM16.
func DecodeMulaw(ulaw []byte) []byte {
	out := make([]int16, len(ulaw))
	for i, b := range ulaw {
		out[i] = mulawDecodeTable[b]
	}
	return Bytes(out)
}

// EncodeMulaw compresses PCM16 into G.711 µ-law bytes.
func EncodeMulaw(pcm []byte) []byte {
	samples := Samples(pcm)
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = encodeMulawSample(s)
	}
	return out
}
