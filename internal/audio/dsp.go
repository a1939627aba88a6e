package audio

import "math"

// SilenceDB is reported for frames whose RMS energy is effectively zero.
const SilenceDB = -96.0

// RMS returns the root-mean-square amplitude of a PCM16 buffer.
func RMS(pcm []byte) float64 {
	samples := Samples(pcm)
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// RMSDb returns the buffer level in dBFS, or SilenceDB for near-zero energy.
func RMSDb(pcm []byte) float64 {
	return levelDB(RMS(pcm))
}

func levelDB(rms float64) float64 {
	if rms < 1 {
		return SilenceDB
	}
	return 20 * math.Log10(rms/32768)
}

// RemoveDC subtracts the mean sample value.
func RemoveDC(pcm []byte) []byte {
	samples := Samples(pcm)
	if len(samples) == 0 {
		return copyBytes(pcm)
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	mean := sum / float64(len(samples))
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = clip16(float64(s) - mean)
	}
	return Bytes(out)
}

// biquad is a direct form I second-order section.
type biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

func (f *biquad) process(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

func newHighpass(cutoff, rate float64) *biquad {
	w0 := 2 * math.Pi * cutoff / rate
	alpha := math.Sin(w0) / math.Sqrt2 // Q = 1/sqrt(2)
	cos := math.Cos(w0)
	a0 := 1 + alpha
	return &biquad{
		b0: (1 + cos) / 2 / a0,
		b1: -(1 + cos) / a0,
		b2: (1 + cos) / 2 / a0,
		a1: -2 * cos / a0,
		a2: (1 - alpha) / a0,
	}
}

func newLowpass(cutoff, rate float64) *biquad {
	w0 := 2 * math.Pi * cutoff / rate
	alpha := math.Sin(w0) / math.Sqrt2 // Q = 1/sqrt(2)
	cos := math.Cos(w0)
	a0 := 1 + alpha
	return &biquad{
		b0: (1 - cos) / 2 / a0,
		b1: (1 - cos) / a0,
		b2: (1 - cos) / 2 / a0,
		a1: -2 * cos / a0,
		a2: (1 - alpha) / a0,
	}
}

func applyFilters(pcm []byte, filters ...*biquad) []byte {
	samples := Samples(pcm)
	if len(samples) == 0 {
		return copyBytes(pcm)
	}
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s)
		for _, f := range filters {
			v = f.process(v)
		}
		out[i] = clip16(v)
	}
	return Bytes(out)
}

// Highpass applies a second-order Butterworth high-pass filter.
func Highpass(pcm []byte, cutoff float64, rate int) []byte {
	if cutoff <= 0 || rate <= 0 || cutoff >= float64(rate)/2 {
		return copyBytes(pcm)
	}
	return applyFilters(pcm, newHighpass(cutoff, float64(rate)))
}

// Bandpass keeps the band between low and high Hz using a Butterworth
// high-pass followed by a Butterworth low-pass section.
func Bandpass(pcm []byte, low, high float64, rate int) []byte {
	nyquist := float64(rate) / 2
	if rate <= 0 || low <= 0 || high <= low || high >= nyquist {
		return copyBytes(pcm)
	}
	return applyFilters(pcm, newHighpass(low, float64(rate)), newLowpass(high, float64(rate)))
}

// TrimSilence drops leading and trailing frames quieter than thresholdDB.
// A buffer with no frame above the threshold is returned empty.
func TrimSilence(pcm []byte, rate int, frameMS int, thresholdDB float64) []byte {
	if rate <= 0 || frameMS <= 0 {
		return copyBytes(pcm)
	}
	frameBytes := rate * frameMS / 1000 * 2
	if frameBytes <= 0 || len(pcm) < 2 {
		return copyBytes(pcm)
	}
	first, last := -1, -1
	for off := 0; off < len(pcm); off += frameBytes {
		end := off + frameBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		if RMSDb(pcm[off:end]) >= thresholdDB {
			if first < 0 {
				first = off
			}
			last = end
		}
	}
	if first < 0 {
		return []byte{}
	}
	return copyBytes(pcm[first:last])
}
