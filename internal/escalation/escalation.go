// Package escalation hands a live call over to a human agent.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-callbot/internal/bus"
	"github.com/loqalabs/loqa-callbot/internal/config"
	"github.com/loqalabs/loqa-callbot/internal/protocol"
	"github.com/loqalabs/loqa-callbot/internal/telephony"
)

const transferAnnouncement = "Kripya pratiksha karein, hum aapko agent se connect kar rahe hain."

// Escalator performs the handoff. Implementations must not block the call
// path for long; callers bound them with a timeout.
type Escalator interface {
	Escalate(ctx context.Context, req protocol.HandoffRequest) error
}

// Dialer is the subset of the Twilio client used for transfers.
type Dialer interface {
	DialAgent(ctx context.Context, callSID, agentNumber, announcement string) error
}

// New builds the escalator selected by cfg.Mode.
func New(cfg config.EscalationConfig, busClient *bus.Client, dialer Dialer, logger *slog.Logger) (Escalator, error) {
	logger = logger.With(slog.String("component", "escalation"))
	switch cfg.Mode {
	case "", "log":
		return &logEscalator{logger: logger}, nil
	case "bus":
		if busClient == nil {
			return nil, errors.New("escalation mode bus requires a bus connection")
		}
		subject := cfg.Subject
		if subject == "" {
			subject = protocol.SubjectHandoff
		}
		return &busEscalator{bus: busClient, subject: subject}, nil
	case "twilio":
		if dialer == nil {
			return nil, errors.New("escalation mode twilio requires a telephony client")
		}
		return &twilioEscalator{dialer: dialer, agent: cfg.AgentNumber}, nil
	default:
		return nil, fmt.Errorf("unsupported escalation mode %q", cfg.Mode)
	}
}

type logEscalator struct {
	logger *slog.Logger
}

func (l *logEscalator) Escalate(_ context.Context, req protocol.HandoffRequest) error {
	l.logger.Info("handoff requested",
		slog.String("session_id", req.SessionID),
		slog.String("call_sid", req.CallSID),
		slog.Int("turn", req.Turn),
		slog.String("reason", req.Reason))
	return nil
}

type busEscalator struct {
	bus     *bus.Client
	subject string
}

func (b *busEscalator) Escalate(_ context.Context, req protocol.HandoffRequest) error {
	if err := b.bus.PublishJSON(b.subject, req); err != nil {
		return fmt.Errorf("publish handoff: %w", err)
	}
	return nil
}

type twilioEscalator struct {
	dialer Dialer
	agent  string
}

func (t *twilioEscalator) Escalate(ctx context.Context, req protocol.HandoffRequest) error {
	if req.CallSID == "" {
		return errors.New("handoff needs a call SID")
	}
	if err := t.dialer.DialAgent(ctx, req.CallSID, t.agent, transferAnnouncement); err != nil {
		return fmt.Errorf("transfer call: %w", err)
	}
	return nil
}

var _ Dialer = (*telephony.Client)(nil)
