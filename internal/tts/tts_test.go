package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-callbot/internal/audio"
	"github.com/loqalabs/loqa-callbot/internal/config"
)

func TestMockSynthCollect(t *testing.T) {
	synth, err := New(config.TTSConfig{Mode: "mock", SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	pcm, rate, err := Collect(context.Background(), synth, SynthRequest{SessionID: "s1", Text: "namaste"})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if rate != 16000 {
		t.Fatalf("expected 16 kHz, got %d", rate)
	}
	if got := audio.Duration(pcm, rate); got != 280*time.Millisecond {
		t.Fatalf("expected 280ms tone, got %s", got)
	}
	if string(pcm[:4]) == "RIFF" {
		t.Fatal("container header must be stripped")
	}
	if audio.RMSDb(pcm) < -30 {
		t.Fatalf("tone too quiet: %.1f dB", audio.RMSDb(pcm))
	}
}

func TestCollectHonoursCancellation(t *testing.T) {
	synth := NewMockSynth(16000, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := Collect(ctx, synth, SynthRequest{Text: "hello"}); err == nil {
		t.Fatal("expected error for cancelled synthesis")
	}
}

func TestVoiceFor(t *testing.T) {
	cfg := config.TTSConfig{VoiceHindi: "hi-voice", VoiceEn: "en-voice"}
	if VoiceFor(cfg, "en") != "en-voice" {
		t.Fatal("english sessions should use the english voice")
	}
	if VoiceFor(cfg, "hi-en") != "hi-voice" || VoiceFor(cfg, "hi") != "hi-voice" {
		t.Fatal("hindi and hinglish sessions should use the hindi voice")
	}
}

func TestDeepgramSynth(t *testing.T) {
	want := audio.Bytes([]int16{100, -100, 200, -200})
	wav, err := audio.EncodeWAV(want, 16000)
	if err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/speak" || r.URL.Query().Get("model") != "aura-asteria-en" {
			t.Errorf("unexpected request %s", r.URL)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"text":"hello"}` {
			t.Errorf("unexpected body %s", body)
		}
		_, _ = w.Write(wav)
	}))
	defer srv.Close()

	synth := NewDeepgramSynth(config.TTSConfig{Endpoint: srv.URL, APIKey: "k", SampleRate: 16000})
	pcm, rate, err := Collect(context.Background(), synth, SynthRequest{Text: "hello", Voice: "aura-asteria-en"})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if rate != 16000 || string(pcm) != string(want) {
		t.Fatalf("unexpected pcm (%d bytes at %d Hz)", len(pcm), rate)
	}
}

func TestExecSynth(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script synthesizer requires a POSIX shell")
	}
	first := base64.StdEncoding.EncodeToString([]byte{1, 0, 2, 0})
	second := base64.StdEncoding.EncodeToString([]byte{3, 0})
	dir := t.TempDir()
	script := filepath.Join(dir, "tts.sh")
	content := fmt.Sprintf(`#!/bin/sh
cat > /dev/null
echo '{"pcm_base64":"%s","final":false}'
echo '{"pcm_base64":"%s","final":true}'
`, first, second)
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	synth, err := NewExecSynth(script, 16000, 1)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	pcm, _, err := Collect(context.Background(), synth, SynthRequest{Text: "hi"})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if string(pcm) != string([]byte{1, 0, 2, 0, 3, 0}) {
		t.Fatalf("unexpected pcm %v", pcm)
	}
}

func TestReadChunksNumbersLines(t *testing.T) {
	a := base64.StdEncoding.EncodeToString([]byte{1, 0})
	b := base64.StdEncoding.EncodeToString([]byte{2, 0})
	input := fmt.Sprintf("{\"pcm_base64\":\"%s\"}\n\n{\"pcm_base64\":\"%s\",\"final\":true}\n", a, b)

	out := make(chan SynthChunk, 4)
	template := SynthChunk{SessionID: "s1", SampleRate: 8000, Channels: 1}
	if err := readChunks(context.Background(), strings.NewReader(input), template, out); err != nil {
		t.Fatalf("read chunks: %v", err)
	}
	close(out)

	var got []SynthChunk
	for chunk := range out {
		got = append(got, chunk)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}
	if got[0].Sequence != 0 || got[1].Sequence != 1 {
		t.Fatalf("unexpected sequence numbers %d, %d", got[0].Sequence, got[1].Sequence)
	}
	if got[1].SessionID != "s1" || got[1].SampleRate != 8000 || !got[1].Final {
		t.Fatalf("template not applied: %+v", got[1])
	}
}

func TestReadChunksRejectsGarbage(t *testing.T) {
	out := make(chan SynthChunk, 1)
	err := readChunks(context.Background(), strings.NewReader("not json\n"), SynthChunk{}, out)
	if err == nil || !strings.Contains(err.Error(), "decode tts output") {
		t.Fatalf("expected decode error, got %v", err)
	}
}

type staticSynth struct {
	chunks []SynthChunk
}

func (s staticSynth) Synthesize(context.Context, SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, len(s.chunks))
	errs := make(chan error)
	for _, c := range s.chunks {
		chunks <- c
	}
	close(chunks)
	close(errs)
	return chunks, errs
}

func TestCollectRejectsUnreadableContainer(t *testing.T) {
	synth := staticSynth{chunks: []SynthChunk{
		{Sequence: 0, SampleRate: 16000, Audio: []byte{1, 0, 2, 0}},
		{Sequence: 1, SampleRate: 16000, Audio: []byte("RIFF\x24\x00\x00\x00WAVEfmt ")},
	}}
	if _, _, err := Collect(context.Background(), synth, SynthRequest{Text: "hi"}); err == nil {
		t.Fatal("expected a broken container to fail the synthesis")
	}
}
