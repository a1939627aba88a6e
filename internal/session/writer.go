package session

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval = 20 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// outboundFrame is one JSON text frame. written, when set, is closed once the
// frame has reached the socket.
type outboundFrame struct {
	payload []byte
	written chan struct{}
}

// outboundWriter owns every write on the socket. Priority frames (clear) are
// written ahead of queued media.
type outboundWriter struct {
	ws           wsWriter
	ctx          context.Context
	pingInterval time.Duration
	writeTimeout time.Duration
	priority     <-chan outboundFrame
	normal       <-chan outboundFrame
}

func (w *outboundWriter) Run() error {
	pingInterval := w.pingInterval
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	writeTimeout := w.writeTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.flushPriorityOnShutdown(writeTimeout)
			_ = w.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
			_ = w.ws.Close()
			return nil
		default:
		}

		select {
		case frame := <-w.priority:
			if err := w.writeFrame(frame, writeTimeout); err != nil {
				return err
			}
			continue
		default:
		}

		select {
		case <-w.ctx.Done():
		case <-pingTicker.C:
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
				return err
			}
		case frame := <-w.priority:
			if err := w.writeFrame(frame, writeTimeout); err != nil {
				return err
			}
		case frame := <-w.normal:
			if err := w.writeFrame(frame, writeTimeout); err != nil {
				return err
			}
		}
	}
}

func (w *outboundWriter) flushPriorityOnShutdown(writeTimeout time.Duration) {
	flushTimeout := 100 * time.Millisecond
	if writeTimeout < flushTimeout {
		flushTimeout = writeTimeout
	}
	deadline := time.Now().Add(flushTimeout)

	for i := 0; i < 8 && time.Now().Before(deadline); i++ {
		select {
		case frame := <-w.priority:
			_ = w.writeFrame(frame, writeTimeout)
		default:
			return
		}
	}
}

func (w *outboundWriter) writeFrame(frame outboundFrame, writeTimeout time.Duration) error {
	if err := w.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if err := w.ws.WriteMessage(websocket.TextMessage, frame.payload); err != nil {
		return err
	}
	if frame.written != nil {
		close(frame.written)
	}
	return nil
}
