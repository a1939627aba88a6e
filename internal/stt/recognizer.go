package stt

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-callbot/internal/config"
)

// Word carries per-word timing in seconds from the start of the utterance.
type Word struct {
	Text       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// TranscriptionResult captures recognizer output for one utterance.
type TranscriptionResult struct {
	Text             string
	Confidence       float64
	IsFinal          bool
	DetectedLanguage string
	Words            []Word
}

// Recognizer abstracts STT backends. pcm is mono PCM16 at sampleRate and
// language is a hint (hi, en or hi-en).
type Recognizer interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (TranscriptionResult, error)
}

// New builds the recognizer selected by cfg.Mode.
func New(cfg config.STTConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockRecognizer(cfg.MockText, cfg.MockConf), nil
	case "exec":
		return NewExecRecognizer(cfg)
	case "deepgram":
		return NewDeepgramRecognizer(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
}
