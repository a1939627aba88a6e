// Package audio holds the codec and signal-processing transforms used on the
// call path. Functions operate on little-endian PCM16 mono byte buffers or on
// G.711 µ-law bytes and never mutate their input.
package audio

import (
	"encoding/binary"
	"time"
)

const (
	// TelephonyRate is the sample rate of the telephony leg.
	TelephonyRate = 8000
	// RecognizerRate is the sample rate expected by speech recognition.
	RecognizerRate = 16000
)

// Samples decodes a PCM16 buffer. A trailing odd byte is ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Bytes encodes samples as PCM16.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Duration reports how long a PCM16 mono buffer plays at rate.
func Duration(pcm []byte, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	samples := len(pcm) / 2
	return time.Duration(samples) * time.Second / time.Duration(rate)
}

// MulawDuration reports how long a µ-law buffer plays at rate.
func MulawDuration(ulaw []byte, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(len(ulaw)) * time.Second / time.Duration(rate)
}

func clip16(v float64) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	case v >= 0:
		return int16(v + 0.5)
	default:
		return int16(v - 0.5)
	}
}

func copyBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}
