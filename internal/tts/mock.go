package tts

import (
	"context"
	"math"
	"time"

	"github.com/loqalabs/loqa-callbot/internal/audio"
)

const (
	mockToneHz     = 440.0
	mockAmplitude  = 4000.0
	mockPerRune    = 40 * time.Millisecond
	mockMinTone    = 200 * time.Millisecond
	mockMaxTone    = 3 * time.Second
	mockSynthDelay = 20 * time.Millisecond
)

// mockSynth renders a sine tone whose length follows the text length, wrapped
// in a WAVE container like a vendor response.
type mockSynth struct {
	sampleRate int
	channels   int
}

func NewMockSynth(sampleRate, channels int) Synthesizer {
	if sampleRate <= 0 {
		sampleRate = audio.RecognizerRate
	}
	return &mockSynth{sampleRate: sampleRate, channels: channels}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(mockSynthDelay):
		}
		wav, err := audio.EncodeWAV(m.tone(len([]rune(req.Text))), m.sampleRate)
		if err != nil {
			errs <- err
			return
		}
		chunks <- SynthChunk{
			SessionID:  req.SessionID,
			Sequence:   0,
			SampleRate: m.sampleRate,
			Channels:   1,
			Audio:      wav,
			Final:      true,
		}
	}()
	return chunks, errs
}

func (m *mockSynth) tone(runes int) []byte {
	length := time.Duration(runes) * mockPerRune
	if length < mockMinTone {
		length = mockMinTone
	}
	if length > mockMaxTone {
		length = mockMaxTone
	}
	n := int(int64(length) * int64(m.sampleRate) / int64(time.Second))
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(mockAmplitude * math.Sin(2*math.Pi*mockToneHz*float64(i)/float64(m.sampleRate)))
	}
	return audio.Bytes(samples)
}
