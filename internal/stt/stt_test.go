package stt

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/loqalabs/loqa-callbot/internal/audio"
	"github.com/loqalabs/loqa-callbot/internal/config"
)

func tone(samples int) []byte {
	pcm := make([]int16, samples)
	for i := range pcm {
		if i%2 == 0 {
			pcm[i] = 3000
		} else {
			pcm[i] = -3000
		}
	}
	return audio.Bytes(pcm)
}

func TestMockRecognizer(t *testing.T) {
	rec, err := New(config.STTConfig{Mode: "mock", MockText: "station kahan hai", MockConf: 0.8})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	result, err := rec.Transcribe(context.Background(), tone(1600), 16000, "hi")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if result.Text != "station kahan hai" || result.Confidence != 0.8 || !result.IsFinal || result.DetectedLanguage != "hi" {
		t.Fatalf("unexpected result: %+v", result)
	}

	silent, err := rec.Transcribe(context.Background(), make([]byte, 3200), 16000, "hi")
	if err != nil || silent.Text != "" {
		t.Fatalf("expected empty transcript for silence, got %+v err=%v", silent, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := rec.Transcribe(ctx, tone(10), 16000, "hi"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestNewRejectsUnknownMode(t *testing.T) {
	if _, err := New(config.STTConfig{Mode: "whisper-cloud"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
	if _, err := New(config.STTConfig{Mode: "exec", Command: "   "}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestDeepgramRecognizer(t *testing.T) {
	var gotQuery map[string][]string
	var gotLen int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/listen" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Token dg-key" {
			t.Errorf("missing token header")
		}
		gotQuery = r.URL.Query()
		body, _ := io.ReadAll(r.Body)
		gotLen = len(body)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": map[string]any{
				"channels": []any{map[string]any{
					"detected_language": "hi",
					"alternatives": []any{map[string]any{
						"transcript": "swap station kahan hai",
						"confidence": 0.91,
						"words": []any{
							map[string]any{"word": "swap", "start": 0.1, "end": 0.4, "confidence": 0.95},
						},
					}},
				}},
			},
		})
	}))
	defer srv.Close()

	rec := NewDeepgramRecognizer(config.STTConfig{
		Endpoint: srv.URL + "/",
		APIKey:   "dg-key",
		Keywords: []string{"swap station", "Battery Smart"},
	})
	pcm := tone(3200)
	result, err := rec.Transcribe(context.Background(), pcm, 16000, "hi-en")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if result.Text != "swap station kahan hai" || result.Confidence != 0.91 || len(result.Words) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Words[0].Text != "swap" {
		t.Fatalf("unexpected word: %+v", result.Words[0])
	}
	if gotLen != len(pcm) {
		t.Fatalf("expected raw pcm body of %d bytes, got %d", len(pcm), gotLen)
	}
	if gotQuery["language"][0] != "hi" || gotQuery["model"][0] != "nova-2" || len(gotQuery["keywords"]) != 2 {
		t.Fatalf("unexpected query: %v", gotQuery)
	}
}

func TestDeepgramRecognizerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	rec := NewDeepgramRecognizer(config.STTConfig{Endpoint: srv.URL, APIKey: "x"})
	if _, err := rec.Transcribe(context.Background(), tone(10), 16000, "en"); err == nil {
		t.Fatal("expected error for unauthorized response")
	}
}

func TestExecRecognizer(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script recognizer requires a POSIX shell")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "stt.sh")
	content := `#!/bin/sh
audio=""
lang=""
while [ $# -gt 0 ]; do
  case "$1" in
    --audio) audio="$2"; shift 2 ;;
    --language) lang="$2"; shift 2 ;;
    *) shift ;;
  esac
done
[ -s "$audio" ] || exit 3
printf '{"text":"battery swap","confidence":0.75,"language":"%s"}' "$lang"
`
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	rec, err := NewExecRecognizer(config.STTConfig{Command: script})
	if err != nil {
		t.Fatalf("new exec recognizer: %v", err)
	}
	result, err := rec.Transcribe(context.Background(), tone(1600), 16000, "en")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if result.Text != "battery swap" || result.Confidence != 0.75 || result.DetectedLanguage != "en" {
		t.Fatalf("unexpected result: %+v", result)
	}
}
