package dialogue

import (
	"context"
	"strings"
	"time"
)

type mockEngine struct{}

// NewMockEngine echoes caller turns and asks for an agent when the caller
// mentions one.
func NewMockEngine() Engine { return &mockEngine{} }

func (m *mockEngine) Send(ctx context.Context, req Request) ([]Reply, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	message := strings.TrimSpace(req.Message)
	if message == SessionStartMessage || message == SessionEndMessage {
		return nil, nil
	}
	if strings.Contains(strings.ToLower(message), "agent") {
		return []Reply{{Text: "Main aapko agent se connect kar rahi hoon.", Custom: map[string]any{"action": actionHandoff}}}, nil
	}
	return []Reply{{Text: "Aapne kaha: " + message}}, nil
}
