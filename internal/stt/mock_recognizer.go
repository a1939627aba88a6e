package stt

import (
	"context"

	"github.com/loqalabs/loqa-callbot/internal/audio"
)

type mockRecognizer struct {
	text       string
	confidence float64
}

// NewMockRecognizer returns text for any utterance that carries signal and an
// empty result for digital silence.
func NewMockRecognizer(text string, confidence float64) Recognizer {
	return &mockRecognizer{text: text, confidence: confidence}
}

func (m *mockRecognizer) Transcribe(ctx context.Context, pcm []byte, _ int, language string) (TranscriptionResult, error) {
	if err := ctx.Err(); err != nil {
		return TranscriptionResult{}, err
	}
	if audio.RMS(pcm) == 0 {
		return TranscriptionResult{IsFinal: true, DetectedLanguage: language}, nil
	}
	return TranscriptionResult{
		Text:             m.text,
		Confidence:       m.confidence,
		IsFinal:          true,
		DetectedLanguage: language,
	}, nil
}
