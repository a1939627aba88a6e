package audio

import (
	"bytes"
	"math"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func sine(freq float64, rate, n int, amp float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestMulawRoundTrip(t *testing.T) {
	var samples []int16
	for v := -32000; v <= 32000; v += 97 {
		samples = append(samples, int16(v))
	}
	decoded := Samples(DecodeMulaw(EncodeMulaw(Bytes(samples))))
	if len(decoded) != len(samples) {
		t.Fatalf("length mismatch: %d vs %d", len(decoded), len(samples))
	}
	for i, s := range samples {
		tolerance := (math.Abs(float64(s))+mulawBias)/32 + 1
		if diff := math.Abs(float64(decoded[i]) - float64(s)); diff > tolerance {
			t.Fatalf("sample %d: got %d want %d (diff %.0f > %.0f)", i, decoded[i], s, diff, tolerance)
		}
	}
}

func TestMulawKnownValues(t *testing.T) {
	if got := mulawDecodeTable[0xFF]; got != 0 {
		t.Fatalf("0xFF should decode to 0, got %d", got)
	}
	if got := mulawDecodeTable[0x00]; got != -32124 {
		t.Fatalf("0x00 should decode to -32124, got %d", got)
	}
	if got := mulawDecodeTable[0x80]; got != 32124 {
		t.Fatalf("0x80 should decode to 32124, got %d", got)
	}
	if got := encodeMulawSample(0); got != 0xFF {
		t.Fatalf("silence should encode to 0xFF, got %#x", got)
	}
	if got := encodeMulawSample(-32768); mulawDecodeTable[got] != -32124 {
		t.Fatalf("full-scale negative should clip to -32124, got %d", mulawDecodeTable[got])
	}
}

func TestMulawIdempotentOnCodewords(t *testing.T) {
	for i := 0; i < 256; i++ {
		pcm := mulawDecodeTable[i]
		if back := mulawDecodeTable[encodeMulawSample(pcm)]; back != pcm {
			t.Fatalf("codeword %#x: decode(encode(%d)) = %d", i, pcm, back)
		}
	}
}

var testResampler = NewResampler(0)

func TestResampleUpPreservesOriginalSamples(t *testing.T) {
	in := sine(440, TelephonyRate, 800, 8000)
	up := Samples(testResampler.Up(Bytes(in)))
	if len(up) != 2*len(in) {
		t.Fatalf("expected %d samples, got %d", 2*len(in), len(up))
	}
	for i, s := range in {
		if up[2*i] != s {
			t.Fatalf("sample %d changed: %d -> %d", i, s, up[2*i])
		}
	}
}

func TestResampleRoundTrip(t *testing.T) {
	in := sine(440, TelephonyRate, 1600, 10000)
	back := Samples(testResampler.Down(testResampler.Up(Bytes(in))))
	if len(back) != len(in) {
		t.Fatalf("length mismatch: %d vs %d", len(back), len(in))
	}
	edge := DefaultTaps
	for i := edge; i < len(in)-edge; i++ {
		if diff := math.Abs(float64(back[i]) - float64(in[i])); diff > 150 {
			t.Fatalf("sample %d: diff %.0f exceeds tolerance", i, diff)
		}
	}
}

func TestResampleDownRemovesAliasingContent(t *testing.T) {
	// 6 kHz is above the 4 kHz Nyquist of the target rate.
	in := sine(6000, RecognizerRate, 3200, 12000)
	out := testResampler.Down(Bytes(in))
	trimmed := out[2*DefaultTaps : len(out)-2*DefaultTaps]
	if level := RMSDb(trimmed); level > -40 {
		t.Fatalf("expected strong attenuation, got %.1f dBFS", level)
	}
}

func TestResampleDegenerateInput(t *testing.T) {
	if out := testResampler.Down([]byte{0x01}); !bytes.Equal(out, []byte{0x01}) {
		t.Fatalf("expected short input unchanged, got %v", out)
	}
	if out := testResampler.Up(nil); len(out) != 0 {
		t.Fatalf("expected empty output, got %v", out)
	}
}

func TestStripContainerHeader(t *testing.T) {
	pcm := Bytes(sine(300, RecognizerRate, 400, 5000))
	wavData, err := EncodeWAV(pcm, RecognizerRate)
	if err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	if len(wavData) <= len(pcm) {
		t.Fatalf("expected header in container")
	}
	got, err := StripContainerHeader(wavData)
	if err != nil || !bytes.Equal(got, pcm) {
		t.Fatalf("payload mismatch: got %d bytes want %d (%v)", len(got), len(pcm), err)
	}

	raw := []byte{1, 2, 3, 4}
	if got, err := StripContainerHeader(raw); err != nil || !bytes.Equal(got, raw) {
		t.Fatalf("non-container input should be unchanged")
	}
	truncated := wavData[:20]
	if _, err := StripContainerHeader(truncated); err == nil {
		t.Fatal("expected an error for a truncated container")
	}
}

func TestStripContainerHeaderConvertsEightBit(t *testing.T) {
	ws := &memWriteSeeker{}
	enc := wav.NewEncoder(ws, TelephonyRate, 8, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: TelephonyRate},
		Data:           []int{128, 255, 0, 192},
		SourceBitDepth: 8,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := StripContainerHeader(ws.buf)
	if err != nil {
		t.Fatalf("strip: %v", err)
	}
	want := []int16{0, 127 << 8, -128 << 8, 64 << 8}
	if samples := Samples(got); len(samples) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(samples))
	} else {
		for i := range want {
			if samples[i] != want[i] {
				t.Fatalf("sample %d = %d, want %d", i, samples[i], want[i])
			}
		}
	}
}

func TestStripContainerHeaderMixesStereo(t *testing.T) {
	ws := &memWriteSeeker{}
	enc := wav.NewEncoder(ws, TelephonyRate, 16, 2, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 2, SampleRate: TelephonyRate},
		Data:           []int{1000, 3000, -2000, 0},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := StripContainerHeader(ws.buf)
	if err != nil {
		t.Fatalf("strip: %v", err)
	}
	samples := Samples(got)
	if len(samples) != 2 || samples[0] != 2000 || samples[1] != -1000 {
		t.Fatalf("unexpected mixdown %v", samples)
	}
}

func TestStripContainerHeaderRejectsFloat(t *testing.T) {
	ws := &memWriteSeeker{}
	enc := wav.NewEncoder(ws, TelephonyRate, 32, 1, 3)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: TelephonyRate},
		Data:           []int{0, 1, 2, 3},
		SourceBitDepth: 32,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := StripContainerHeader(ws.buf); err == nil {
		t.Fatal("expected float samples to be rejected")
	}
}

func TestRMSDb(t *testing.T) {
	silence := make([]byte, 320)
	if got := RMSDb(silence); got != SilenceDB {
		t.Fatalf("expected sentinel, got %f", got)
	}
	full := Bytes(sine(1000, TelephonyRate, 800, 32767))
	if got := RMSDb(full); got < -3.5 || got > -2.5 {
		t.Fatalf("full-scale sine should be about -3 dBFS, got %f", got)
	}
}

func TestRemoveDC(t *testing.T) {
	in := make([]int16, 400)
	for i := range in {
		in[i] = 1000
	}
	out := Samples(RemoveDC(Bytes(in)))
	for _, s := range out {
		if s != 0 {
			t.Fatalf("expected zero after DC removal, got %d", s)
		}
	}
}

func TestBandpassAttenuatesOutOfBand(t *testing.T) {
	low := Bytes(sine(30, TelephonyRate, 8000, 10000))
	mid := Bytes(sine(1000, TelephonyRate, 8000, 10000))
	lowOut := Bandpass(low, 100, 3400, TelephonyRate)
	midOut := Bandpass(mid, 100, 3400, TelephonyRate)
	if RMSDb(lowOut[1600:]) > RMSDb(low)-15 {
		t.Fatalf("30 Hz should be attenuated: %.1f vs %.1f", RMSDb(lowOut[1600:]), RMSDb(low))
	}
	if math.Abs(RMSDb(midOut[1600:])-RMSDb(mid)) > 1 {
		t.Fatalf("1 kHz should pass: %.1f vs %.1f", RMSDb(midOut[1600:]), RMSDb(mid))
	}
	if out := Bandpass(mid, 3400, 100, TelephonyRate); !bytes.Equal(out, mid) {
		t.Fatalf("invalid band should return input")
	}
}

func TestTrimSilence(t *testing.T) {
	quiet := make([]int16, 1600)
	loud := sine(500, TelephonyRate, 1600, 8000)
	buf := append(append(append([]int16{}, quiet...), loud...), quiet...)
	out := TrimSilence(Bytes(buf), TelephonyRate, 20, -50)
	if len(out) != len(loud)*2 {
		t.Fatalf("expected %d bytes, got %d", len(loud)*2, len(out))
	}
	if got := TrimSilence(Bytes(quiet), TelephonyRate, 20, -50); len(got) != 0 {
		t.Fatalf("all-silent buffer should trim to empty")
	}
}

func TestSuppressNoiseReducesNoiseFloor(t *testing.T) {
	n := 8000
	noise := make([]int16, n)
	seed := uint32(7)
	for i := range noise {
		seed = seed*1664525 + 1013904223
		noise[i] = int16(int32(seed>>16)%600 - 300)
	}
	signal := make([]int16, n)
	tone := sine(700, TelephonyRate, n/2, 9000)
	for i := range signal {
		v := int32(noise[i])
		if i >= n/4 && i < n/4+len(tone) {
			v += int32(tone[i-n/4])
		}
		signal[i] = int16(v)
	}
	out := SuppressNoise(Bytes(signal))
	if len(out) != len(signal)*2 {
		t.Fatalf("length changed")
	}
	quietIn := RMSDb(Bytes(signal[512 : n/4-512]))
	quietOut := RMSDb(out[1024 : n/2-1024])
	if quietOut >= quietIn {
		t.Fatalf("noise floor not reduced: in %.1f out %.1f", quietIn, quietOut)
	}
	toneIn := RMSDb(Bytes(signal[n/4+512 : n/4+len(tone)-512]))
	toneOut := RMSDb(out[(n/4+512)*2 : (n/4+len(tone)-512)*2])
	if math.Abs(toneIn-toneOut) > 3 {
		t.Fatalf("tone level changed too much: %.1f -> %.1f", toneIn, toneOut)
	}

	short := Bytes(noise[:100])
	if got := SuppressNoise(short); !bytes.Equal(got, short) {
		t.Fatalf("short buffer should be unchanged")
	}
}

func TestDurations(t *testing.T) {
	if got := MulawDuration(make([]byte, 160), TelephonyRate); got.Milliseconds() != 20 {
		t.Fatalf("expected 20ms, got %v", got)
	}
	if got := Duration(make([]byte, 640), RecognizerRate); got.Milliseconds() != 20 {
		t.Fatalf("expected 20ms, got %v", got)
	}
}
