package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-callbot/internal/config"
	"github.com/loqalabs/loqa-callbot/internal/natsserver"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startBus(t *testing.T) *Client {
	t.Helper()
	cfg := config.BusConfig{Enabled: true, Embedded: true, Port: -1, StoreDir: t.TempDir(), ConnectTimeout: 2000, SubjectPrefix: "callbot."}
	srv, err := natsserver.Start(cfg, testLogger())
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	cfg.Servers = []string{srv.ClientURL()}
	client, err := Connect(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestPublishJSONUsesPrefix(t *testing.T) {
	client := startBus(t)
	if got := client.Subject("call.started"); got != "callbot.call.started" {
		t.Fatalf("unexpected subject %q", got)
	}

	sub, err := client.Conn().SubscribeSync("callbot.call.started")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.PublishJSON("call.started", map[string]string{"session_id": "s1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	var payload map[string]string
	if err := json.Unmarshal(msg.Data, &payload); err != nil || payload["session_id"] != "s1" {
		t.Fatalf("unexpected payload %s (%v)", msg.Data, err)
	}
	if !client.Healthy() {
		t.Fatal("expected healthy connection")
	}
}

func TestEnsureCallStreamIsIdempotent(t *testing.T) {
	client := startBus(t)
	if err := client.EnsureCallStream(time.Hour); err != nil {
		t.Fatalf("create stream: %v", err)
	}
	if err := client.EnsureCallStream(2 * time.Hour); err != nil {
		t.Fatalf("update stream: %v", err)
	}
	info, err := client.JetStream().StreamInfo(CallStream)
	if err != nil {
		t.Fatalf("stream info: %v", err)
	}
	if info.Config.MaxAge != 2*time.Hour {
		t.Fatalf("expected updated max age, got %s", info.Config.MaxAge)
	}
}

func TestConnectRequiresServers(t *testing.T) {
	if _, err := Connect(context.Background(), config.BusConfig{}, testLogger()); err == nil {
		t.Fatal("expected error without servers")
	}
}
