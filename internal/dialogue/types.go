// Package dialogue connects a call session to the engine that decides what
// the bot says. The engine is text in, text out.
package dialogue

import (
	"context"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-callbot/internal/config"
)

// Control messages sent around a call.
const (
	SessionStartMessage = "/session_start"
	SessionEndMessage   = "/session_end"
)

const actionHandoff = "handoff"

// Request is one caller turn or control message.
type Request struct {
	SessionID string
	Message   string
	Metadata  map[string]any
}

// Reply is a single bot response. Custom carries structured engine payloads.
type Reply struct {
	Text   string         `json:"text"`
	Custom map[string]any `json:"custom,omitempty"`
}

// Engine defines a pluggable dialogue backend.
type Engine interface {
	Send(ctx context.Context, req Request) ([]Reply, error)
}

// New builds the engine selected by cfg.Mode.
func New(cfg config.DialogueConfig) (Engine, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockEngine(), nil
	case "rasa":
		return NewRasaEngine(cfg.Endpoint), nil
	case "ollama":
		return NewOllamaEngine(cfg), nil
	case "exec":
		return NewExecEngine(cfg.Command)
	default:
		return nil, fmt.Errorf("unsupported dialogue mode %q", cfg.Mode)
	}
}

// FirstText returns the first non-blank reply text. Only one reply is spoken
// per turn.
func FirstText(replies []Reply) string {
	for _, r := range replies {
		if strings.TrimSpace(r.Text) != "" {
			return r.Text
		}
	}
	return ""
}

// WantsHandoff reports whether the engine asked for a human agent, either
// structurally or, failing that, by a reply containing one of phrases.
func WantsHandoff(replies []Reply, phrases []string) bool {
	for _, r := range replies {
		if action, _ := r.Custom["action"].(string); action == actionHandoff {
			return true
		}
	}
	for _, r := range replies {
		text := strings.ToLower(r.Text)
		for _, p := range phrases {
			if p != "" && strings.Contains(text, strings.ToLower(p)) {
				return true
			}
		}
	}
	return false
}

// Sentiment returns the first caller sentiment an engine attached under
// custom.sentiment, as a score in [-1, 1]. Numeric scores are clamped and
// the labels positive, neutral and negative map to 1, 0 and -1.
func Sentiment(replies []Reply) (float64, bool) {
	for _, r := range replies {
		switch v := r.Custom["sentiment"].(type) {
		case float64:
			return max(-1, min(1, v)), true
		case int:
			return max(-1, min(1, float64(v))), true
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "positive":
				return 1, true
			case "neutral":
				return 0, true
			case "negative":
				return -1, true
			}
		}
	}
	return 0, false
}
