package audio

import "math"

// DefaultTaps is the FIR length used when a caller asks for fewer than three.
const DefaultTaps = 31

// Resampler converts between the telephony and recognizer rates (a 2:1
// ratio) with a Blackman-windowed sinc low-pass filter. Upsampling keeps the
// original samples at even output positions; downsampling filters before
// decimating so content above the new Nyquist frequency is removed.
type Resampler struct {
	half int
	// interp holds the odd-phase taps used to fill inserted samples.
	interp []float64
	// decim holds the full low-pass kernel applied before decimation.
	decim []float64
}

// NewResampler builds a resampler with the given odd tap count. Fewer than
// three taps selects DefaultTaps.
func NewResampler(taps int) *Resampler {
	if taps < 3 {
		taps = DefaultTaps
	}
	if taps%2 == 0 {
		taps++
	}
	half := taps / 2
	kernel := make([]float64, taps)
	for i := range kernel {
		m := float64(i - half)
		kernel[i] = sinc(m/2) * blackman(m, float64(half+1))
	}

	var interp []float64
	var interpSum float64
	for i := range kernel {
		if (i-half)%2 != 0 {
			interp = append(interp, kernel[i])
			interpSum += kernel[i]
		}
	}
	for i := range interp {
		interp[i] /= interpSum
	}

	var sum float64
	for _, k := range kernel {
		sum += k
	}
	decim := make([]float64, taps)
	for i := range kernel {
		decim[i] = kernel[i] / sum
	}
	return &Resampler{half: half, interp: interp, decim: decim}
}

// Up doubles the sample rate of a PCM16 buffer.
func (r *Resampler) Up(pcm []byte) []byte {
	in := Samples(pcm)
	if len(in) == 0 {
		return copyBytes(pcm)
	}
	out := make([]int16, len(in)*2)
	// Odd output 2n+1 sits between inputs n and n+1; interp[j] pairs with
	// input n - (len(interp)/2 - 1) + j.
	offset := len(r.interp)/2 - 1
	for n := range in {
		out[2*n] = in[n]
		var acc float64
		for j, tap := range r.interp {
			idx := n - offset + j
			if idx < 0 || idx >= len(in) {
				continue
			}
			acc += tap * float64(in[idx])
		}
		out[2*n+1] = clip16(acc)
	}
	return Bytes(out)
}

// Down halves the sample rate of a PCM16 buffer.
func (r *Resampler) Down(pcm []byte) []byte {
	in := Samples(pcm)
	if len(in) < 2 {
		return copyBytes(pcm)
	}
	out := make([]int16, len(in)/2)
	for n := range out {
		center := 2 * n
		var acc float64
		for i, tap := range r.decim {
			idx := center + i - r.half
			if idx < 0 || idx >= len(in) {
				continue
			}
			acc += tap * float64(in[idx])
		}
		out[n] = clip16(acc)
	}
	return Bytes(out)
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

// blackman evaluates a symmetric Blackman window of half-width w at offset m.
func blackman(m, w float64) float64 {
	if math.Abs(m) >= w {
		return 0
	}
	x := math.Pi * m / w
	return 0.42 + 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
}
