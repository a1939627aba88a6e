package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-callbot/internal/config"
	"github.com/nats-io/nats.go"
)

// CallStream is the JetStream stream that retains call lifecycle events.
const CallStream = "CALLBOT_CALLS"

// Client wraps NATS connection and JetStream context with minimal helpers.
type Client struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	log    *slog.Logger
	prefix string
}

func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("loqa-callbot"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", slog.String("server", nc.ConnectedUrl()))
		}),
	}

	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	if err := ctx.Err(); err != nil {
		conn.Close()
		return nil, err
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url))

	return &Client{
		conn:   conn,
		js:     js,
		log:    log,
		prefix: strings.Trim(cfg.SubjectPrefix, "."),
	}, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	_ = c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) JetStream() nats.JetStreamContext {
	return c.js
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}

func (c *Client) Logger() *slog.Logger {
	return c.log
}

// Subject qualifies name with the configured subject prefix.
func (c *Client) Subject(name string) string {
	if c == nil || c.prefix == "" {
		return name
	}
	return c.prefix + "." + name
}

// PublishJSON marshals v and publishes it on the prefixed subject.
func (c *Client) PublishJSON(subject string, v any) error {
	if c == nil {
		return errors.New("bus not connected")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	return c.conn.Publish(c.Subject(subject), data)
}

// EnsureCallStream creates or updates the stream retaining call events for
// maxAge.
func (c *Client) EnsureCallStream(maxAge time.Duration) error {
	if c == nil || c.js == nil {
		return errors.New("jetstream unavailable")
	}
	cfg := &nats.StreamConfig{
		Name:     CallStream,
		Subjects: []string{c.Subject("call.>")},
		Storage:  nats.FileStorage,
		MaxAge:   maxAge,
	}
	if _, err := c.js.StreamInfo(CallStream); err == nil {
		_, err = c.js.UpdateStream(cfg)
		return err
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info: %w", err)
	}
	_, err := c.js.AddStream(cfg)
	return err
}
