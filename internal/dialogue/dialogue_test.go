package dialogue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-callbot/internal/config"
)

func TestRasaEngine(t *testing.T) {
	var got rasaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/webhooks/rest/webhook" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`[{"recipient_id":"voice-1","text":""},{"recipient_id":"voice-1","text":"Sabse nazdeek station Sector 18 mein hai."}]`))
	}))
	defer srv.Close()

	engine := NewRasaEngine(srv.URL + "/")
	replies, err := engine.Send(context.Background(), Request{
		SessionID: "voice-1",
		Message:   "nearest station kahan hai",
		Metadata:  map[string]any{"phone_number": "9876543210", "language": "hi-en", "confidence": 0.9},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Sender != "voice-1" || got.Message != "nearest station kahan hai" || got.Metadata["phone_number"] != "9876543210" {
		t.Fatalf("unexpected request: %+v", got)
	}
	if FirstText(replies) != "Sabse nazdeek station Sector 18 mein hai." {
		t.Fatalf("unexpected first text: %q", FirstText(replies))
	}
}

func TestRasaEngineErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	if _, err := NewRasaEngine(srv.URL).Send(context.Background(), Request{Message: "hi"}); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestWantsHandoff(t *testing.T) {
	phrases := []string{"agent se connect", "transfer"}
	if !WantsHandoff([]Reply{{Text: "ok", Custom: map[string]any{"action": "handoff"}}}, phrases) {
		t.Fatal("structured handoff not detected")
	}
	if !WantsHandoff([]Reply{{Text: "Main aapko Agent se connect kar rahi hoon"}}, phrases) {
		t.Fatal("phrase fallback not detected")
	}
	if WantsHandoff([]Reply{{Text: "Station Sector 18 mein hai"}}, phrases) {
		t.Fatal("unexpected handoff")
	}
	if WantsHandoff(nil, phrases) {
		t.Fatal("empty replies must not hand off")
	}
}

func TestSentiment(t *testing.T) {
	cases := []struct {
		replies []Reply
		want    float64
		ok      bool
	}{
		{[]Reply{{Text: "ok", Custom: map[string]any{"sentiment": -0.4}}}, -0.4, true},
		{[]Reply{{Text: "ok", Custom: map[string]any{"sentiment": 3.0}}}, 1, true},
		{[]Reply{{Text: "a"}, {Text: "b", Custom: map[string]any{"sentiment": "Negative"}}}, -1, true},
		{[]Reply{{Text: "ok", Custom: map[string]any{"sentiment": "annoyed"}}}, 0, false},
		{nil, 0, false},
	}
	for i, c := range cases {
		got, ok := Sentiment(c.replies)
		if ok != c.ok || got != c.want {
			t.Fatalf("case %d: got (%v, %v), want (%v, %v)", i, got, ok, c.want, c.ok)
		}
	}
}

func TestMockEngine(t *testing.T) {
	engine, err := New(config.DialogueConfig{Mode: "mock"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	replies, err := engine.Send(context.Background(), Request{Message: SessionStartMessage})
	if err != nil || len(replies) != 0 {
		t.Fatalf("session start should produce no replies: %v %v", replies, err)
	}
	replies, _ = engine.Send(context.Background(), Request{Message: "battery swap"})
	if !strings.Contains(FirstText(replies), "battery swap") {
		t.Fatalf("unexpected mock reply %v", replies)
	}
	replies, _ = engine.Send(context.Background(), Request{Message: "agent chahiye"})
	if !WantsHandoff(replies, nil) {
		t.Fatal("mock should request handoff when asked for an agent")
	}
}

func TestOllamaEngine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !strings.Contains(req.Prompt, "[language=hi]") || req.Model != "test-model" {
			t.Errorf("unexpected request %+v", req)
		}
		_, _ = w.Write([]byte("{\"response\":\"Station \",\"done\":false}\n{\"response\":\"paas hai.\",\"done\":true}\n"))
	}))
	defer srv.Close()

	engine := NewOllamaEngine(config.DialogueConfig{Endpoint: srv.URL, Model: "test-model"})
	replies, err := engine.Send(context.Background(), Request{Message: "station", Metadata: map[string]any{"language": "hi"}})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if FirstText(replies) != "Station paas hai." {
		t.Fatalf("unexpected reply %v", replies)
	}
	replies, err = engine.Send(context.Background(), Request{Message: SessionEndMessage})
	if err != nil || replies != nil {
		t.Fatalf("control messages should not reach the model: %v %v", replies, err)
	}
}

func TestExecEngine(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script engine requires a POSIX shell")
	}
	script := filepath.Join(t.TempDir(), "engine.sh")
	content := "#!/bin/sh\ncat > /dev/null\necho '[{\"text\":\"theek hai\"}]'\n"
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	engine, err := New(config.DialogueConfig{Mode: "exec", Command: script})
	if err != nil {
		t.Fatalf("new exec engine: %v", err)
	}
	replies, err := engine.Send(context.Background(), Request{SessionID: "s", Message: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if FirstText(replies) != "theek hai" {
		t.Fatalf("unexpected reply %v", replies)
	}
}
