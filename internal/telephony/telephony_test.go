package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-callbot/internal/config"
)

func TestParseStartEvent(t *testing.T) {
	frame := `{"event":"start","sequenceNumber":"1","streamSid":"MZ123",
		"start":{"accountSid":"AC1","streamSid":"MZ123","callSid":"CA9","tracks":["inbound"],
		"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1},
		"customParameters":{"phone":"+91 98765 43210"}},"unexpected":{"field":true}}`
	evt, err := Parse([]byte(frame))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if evt.Kind != EventStart || evt.Start == nil {
		t.Fatalf("expected start event, got %+v", evt)
	}
	if evt.Start.CallSID != "CA9" || evt.Start.StreamSID != "MZ123" || evt.Start.AccountSID != "AC1" {
		t.Fatalf("unexpected identifiers: %+v", evt.Start)
	}
	if evt.Start.SampleRate != 8000 {
		t.Fatalf("expected 8000 Hz, got %d", evt.Start.SampleRate)
	}
	if got := NormalizePhone(evt.Start.Phone(), "91"); got != "9876543210" {
		t.Fatalf("expected normalized phone 9876543210, got %q", got)
	}
}

func TestParseMediaMarkStop(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte{0xFF, 0x7F, 0x00})
	evt, err := Parse([]byte(`{"event":"media","streamSid":"MZ1","media":{"track":"inbound","chunk":"2","timestamp":"40","payload":"` + payload + `"}}`))
	if err != nil {
		t.Fatalf("parse media: %v", err)
	}
	if evt.Kind != EventMedia || len(evt.Media.Payload) != 3 || evt.Media.Chunk != "2" {
		t.Fatalf("unexpected media event: %+v", evt.Media)
	}

	evt, err = Parse([]byte(`{"event":"mark","streamSid":"MZ1","mark":{"name":"turn-1"}}`))
	if err != nil || evt.Mark != "turn-1" {
		t.Fatalf("unexpected mark: %+v err=%v", evt, err)
	}

	evt, err = Parse([]byte(`{"event":"stop","streamSid":"MZ1","stop":{"accountSid":"AC1","callSid":"CA9"}}`))
	if err != nil {
		t.Fatalf("parse stop: %v", err)
	}
	if evt.Stop == nil || evt.Stop.Reason != StopReasonUnspecified || evt.Stop.CallSID != "CA9" {
		t.Fatalf("unexpected stop: %+v", evt.Stop)
	}

	evt, err = Parse([]byte(`{"event":"stop"}`))
	if err != nil || evt.Stop == nil {
		t.Fatalf("bare stop must still be honored: %+v err=%v", evt, err)
	}
}

func TestParseUnknownAndMalformed(t *testing.T) {
	evt, err := Parse([]byte(`{"event":"dtmf","dtmf":{"digit":"1"}}`))
	if err != nil || evt != nil {
		t.Fatalf("unknown events should be skipped, got %+v err=%v", evt, err)
	}
	if _, err := Parse([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
	if _, err := Parse([]byte(`{"event":"media","media":{"payload":"%%%"}}`)); err == nil {
		t.Fatal("expected error for invalid base64 payload")
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"+91 98765 43210": "9876543210",
		"+919876543210":   "9876543210",
		"09876543210":     "9876543210",
		"98765-43210":     "9876543210",
		"9876543210":      "9876543210",
		"12345":           "12345",
		"":                "",
	}
	for in, want := range cases {
		if got := NormalizePhone(in, "91"); got != want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
	if got := E164("98765 43210", "91"); got != "+919876543210" {
		t.Fatalf("unexpected E164: %s", got)
	}
	if got := E164("+14155550100", "91"); got != "+14155550100" {
		t.Fatalf("E164 should keep explicit international numbers, got %s", got)
	}
}

func TestOutboundMessages(t *testing.T) {
	data, err := MediaMessage("MZ1", []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("media message: %v", err)
	}
	var media map[string]any
	if err := json.Unmarshal(data, &media); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if media["event"] != "media" || media["streamSid"] != "MZ1" {
		t.Fatalf("unexpected media frame: %s", data)
	}
	inner := media["media"].(map[string]any)
	if inner["payload"] != base64.StdEncoding.EncodeToString([]byte{1, 2, 3}) {
		t.Fatalf("unexpected payload: %v", inner["payload"])
	}

	mark, _ := MarkMessage("MZ1", "turn-3")
	if string(mark) != `{"event":"mark","streamSid":"MZ1","mark":{"name":"turn-3"}}` {
		t.Fatalf("unexpected mark frame: %s", mark)
	}
	clr, _ := ClearMessage("MZ1")
	if string(clr) != `{"event":"clear","streamSid":"MZ1"}` {
		t.Fatalf("unexpected clear frame: %s", clr)
	}
}

func TestChunk(t *testing.T) {
	chunks := Chunk(make([]byte, 350), 160)
	if len(chunks) != 3 || len(chunks[2]) != 30 {
		t.Fatalf("unexpected chunking: %d chunks", len(chunks))
	}
	if Chunk(nil, 160) != nil {
		t.Fatal("empty payload should yield no chunks")
	}
}

func TestConnectStreamTwiML(t *testing.T) {
	twiml := ConnectStreamTwiML("wss://bot.example.com/twilio/stream", map[string]string{"phone": "+91<9876>"})
	if !strings.Contains(twiml, `<Stream url="wss://bot.example.com/twilio/stream">`) {
		t.Fatalf("missing stream element: %s", twiml)
	}
	if !strings.Contains(twiml, `<Parameter name="phone" value="+91&lt;9876&gt;" />`) {
		t.Fatalf("parameter not escaped: %s", twiml)
	}
	if !strings.Contains(ConnectStreamTwiML("", nil), "<Hangup/>") {
		t.Fatal("expected hangup when no stream URL is known")
	}
}

func TestVerifySignature(t *testing.T) {
	params := url.Values{"CallSid": {"CA1"}, "From": {"+919876543210"}}
	fullURL := "https://bot.example.com/twilio/voice"
	sig := Sign("secret", fullURL, params)
	if !VerifySignature("secret", sig, fullURL, params) {
		t.Fatal("expected signature to verify")
	}
	if VerifySignature("other", sig, fullURL, params) {
		t.Fatal("signature with wrong token must fail")
	}
	params.Set("From", "+10000000000")
	if VerifySignature("secret", sig, fullURL, params) {
		t.Fatal("tampered params must fail")
	}
}

func testTelephonyConfig(base string) config.TelephonyConfig {
	cfg := config.Default().Telephony
	cfg.AccountSID = "AC123"
	cfg.AuthToken = "token"
	cfg.FromNumber = "+911234567890"
	cfg.PublicURL = "https://bot.example.com"
	cfg.APIBaseURL = base
	return cfg
}

func TestInitiateCall(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Accounts/AC123/Calls.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "token" {
			t.Errorf("missing basic auth")
		}
		body, _ := io.ReadAll(r.Body)
		gotForm, _ = url.ParseQuery(string(body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"CA42","status":"queued","to":"+919876543210"}`))
	}))
	defer srv.Close()

	client := NewClient(testTelephonyConfig(srv.URL))
	result, err := client.InitiateCall(context.Background(), "98765 43210")
	if err != nil {
		t.Fatalf("initiate call: %v", err)
	}
	if result.SID != "CA42" || result.Status != "queued" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if gotForm.Get("To") != "+919876543210" {
		t.Fatalf("unexpected To: %s", gotForm.Get("To"))
	}
	if gotForm.Get("Url") != "https://bot.example.com/twilio/voice" {
		t.Fatalf("unexpected Url: %s", gotForm.Get("Url"))
	}
	if client.StreamURL() != "wss://bot.example.com/twilio/stream" {
		t.Fatalf("unexpected stream url: %s", client.StreamURL())
	}
}

func TestDialAgentAndErrors(t *testing.T) {
	var twiml string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/Calls/CA-bad.json") {
			http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
			return
		}
		_ = r.ParseForm()
		twiml = r.PostForm.Get("Twiml")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(testTelephonyConfig(srv.URL))
	if err := client.DialAgent(context.Background(), "CA1", "9000000000", "Connecting you"); err != nil {
		t.Fatalf("dial agent: %v", err)
	}
	if !strings.Contains(twiml, "<Dial>+919000000000</Dial>") || !strings.Contains(twiml, "<Say>Connecting you</Say>") {
		t.Fatalf("unexpected twiml: %s", twiml)
	}
	if err := client.Redirect(context.Background(), "CA-bad", EmptyTwiML); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected API error, got %v", err)
	}

	unconfigured := NewClient(config.Default().Telephony)
	if _, err := unconfigured.InitiateCall(context.Background(), "9876543210"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
