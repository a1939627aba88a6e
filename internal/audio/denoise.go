package audio

import (
	"math"
	"math/cmplx"
	"sort"
)

const (
	denoiseFrame = 256
	denoiseHop   = denoiseFrame / 2
	// fraction of quietest frames used for the noise profile
	noiseProfileShare = 0.1
	overSubtraction   = 1.5
	spectralFloor     = 0.05
)

// SuppressNoise applies magnitude spectral subtraction. The noise spectrum is
// estimated from the quietest frames of the buffer itself, so buffers shorter
// than two analysis frames are returned unchanged.
func SuppressNoise(pcm []byte) []byte {
	samples := Samples(pcm)
	if len(samples) < 2*denoiseFrame {
		return copyBytes(pcm)
	}
	window := hann(denoiseFrame)

	frameCount := (len(samples)-denoiseFrame)/denoiseHop + 1
	spectra := make([][]complex128, frameCount)
	energies := make([]float64, frameCount)
	for f := 0; f < frameCount; f++ {
		buf := make([]complex128, denoiseFrame)
		start := f * denoiseHop
		var energy float64
		for i := 0; i < denoiseFrame; i++ {
			v := float64(samples[start+i])
			energy += v * v
			buf[i] = complex(v*window[i], 0)
		}
		fft(buf, false)
		spectra[f] = buf
		energies[f] = energy
	}

	noise := noiseProfile(spectra, energies)

	out := make([]float64, len(samples))
	weight := make([]float64, len(samples))
	for f, spec := range spectra {
		for k, c := range spec {
			mag := cmplx.Abs(c)
			clean := mag - overSubtraction*noise[k]
			if floor := spectralFloor * mag; clean < floor {
				clean = floor
			}
			if mag > 0 {
				spec[k] = c * complex(clean/mag, 0)
			}
		}
		fft(spec, true)
		start := f * denoiseHop
		for i := 0; i < denoiseFrame; i++ {
			out[start+i] += real(spec[i])
			weight[start+i] += window[i]
		}
	}

	result := make([]int16, len(samples))
	for i := range samples {
		if weight[i] < 1e-3 {
			// edges not covered by a full overlap keep the input
			result[i] = samples[i]
			continue
		}
		result[i] = clip16(out[i] / weight[i])
	}
	return Bytes(result)
}

func noiseProfile(spectra [][]complex128, energies []float64) []float64 {
	order := make([]int, len(energies))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return energies[order[a]] < energies[order[b]] })
	count := int(math.Ceil(float64(len(order)) * noiseProfileShare))
	if count < 1 {
		count = 1
	}
	profile := make([]float64, denoiseFrame)
	for _, idx := range order[:count] {
		for k, c := range spectra[idx] {
			profile[k] += cmplx.Abs(c)
		}
	}
	for k := range profile {
		profile[k] /= float64(count)
	}
	return profile
}

func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// fft is an in-place iterative radix-2 transform; len(x) must be a power of two.
func fft(x []complex128, inverse bool) {
	n := len(x)
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			x[i], x[j] = x[j], x[i]
		}
	}
	sign := -1.0
	if inverse {
		sign = 1.0
	}
	for size := 2; size <= n; size <<= 1 {
		step := cmplx.Rect(1, sign*2*math.Pi/float64(size))
		for start := 0; start < n; start += size {
			w := complex(1, 0)
			for k := 0; k < size/2; k++ {
				a := x[start+k]
				b := x[start+k+size/2] * w
				x[start+k] = a + b
				x[start+k+size/2] = a - b
				w *= step
			}
		}
	}
	if inverse {
		scale := complex(1/float64(n), 0)
		for i := range x {
			x[i] *= scale
		}
	}
}
