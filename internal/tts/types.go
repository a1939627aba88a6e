package tts

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-callbot/internal/audio"
	"github.com/loqalabs/loqa-callbot/internal/config"
)

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	SessionID string
	Text      string
	Language  string
	Voice     string
}

// SynthChunk contains PCM16 data, optionally wrapped in a WAVE container.
type SynthChunk struct {
	SessionID  string
	Sequence   int
	SampleRate int
	Channels   int
	Audio      []byte
	Final      bool
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// New builds the synthesizer selected by cfg.Mode.
func New(cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	case "deepgram":
		return NewDeepgramSynth(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}

// VoiceFor picks the configured voice for a session language. Hinglish uses
// the Hindi voice.
func VoiceFor(cfg config.TTSConfig, language string) string {
	if language == "en" && cfg.VoiceEn != "" {
		return cfg.VoiceEn
	}
	return cfg.VoiceHindi
}

// Collect drains a synthesis into one PCM16 buffer with container headers
// removed. It returns the sample rate reported by the chunks.
func Collect(ctx context.Context, synth Synthesizer, req SynthRequest) ([]byte, int, error) {
	chunks, errs := synth.Synthesize(ctx, req)
	var (
		pcm        []byte
		sampleRate int
		synthErr   error
	)
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if chunk.SampleRate > 0 {
				sampleRate = chunk.SampleRate
			}
			payload, err := audio.StripContainerHeader(chunk.Audio)
			if err != nil {
				if synthErr == nil {
					synthErr = fmt.Errorf("chunk %d: %w", chunk.Sequence, err)
				}
				continue
			}
			pcm = append(pcm, payload...)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && synthErr == nil {
				synthErr = err
			}
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
	if synthErr != nil {
		return nil, 0, synthErr
	}
	return pcm, sampleRate, nil
}
