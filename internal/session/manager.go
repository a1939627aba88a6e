package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-callbot/internal/audio"
	"github.com/loqalabs/loqa-callbot/internal/config"
	"github.com/loqalabs/loqa-callbot/internal/dialogue"
	"github.com/loqalabs/loqa-callbot/internal/escalation"
	"github.com/loqalabs/loqa-callbot/internal/eventstore"
	"github.com/loqalabs/loqa-callbot/internal/identity"
	"github.com/loqalabs/loqa-callbot/internal/normalizer"
	"github.com/loqalabs/loqa-callbot/internal/protocol"
	"github.com/loqalabs/loqa-callbot/internal/stt"
	"github.com/loqalabs/loqa-callbot/internal/telephony"
	"github.com/loqalabs/loqa-callbot/internal/tts"
	"github.com/loqalabs/loqa-callbot/internal/vad"
	"golang.org/x/time/rate"
)

const (
	inboundQueueSize  = 64
	outboundQueueSize = 256
	priorityQueueSize = 8
	recordTimeout     = 2 * time.Second
)

// Conn is the media stream socket. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	SetReadLimit(limit int64)
	wsWriter
}

// EventStore persists the call timeline.
type EventStore interface {
	StartCall(ctx context.Context, call eventstore.Call) error
	EndCall(ctx context.Context, sessionID, reason string, turns int) error
	AppendEvent(ctx context.Context, evt eventstore.Event) error
}

// Publisher fans call events out on the message bus.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Dependencies wires a Manager to its collaborators. Identity, Escalator,
// Normalizer, Store and Publisher are optional.
type Dependencies struct {
	Config     config.Config
	Recognizer stt.Recognizer
	Engine     dialogue.Engine
	Synth      tts.Synthesizer
	Identity   identity.Resolver
	Escalator  escalation.Escalator
	Normalizer *normalizer.Normalizer
	Store      EventStore
	Publisher  Publisher
	Logger     *slog.Logger
	Now        func() time.Time
}

// Manager creates, tracks and shuts down sessions.
type Manager struct {
	cfg        config.SessionConfig
	audioCfg   config.AudioConfig
	vadCfg     vad.Config
	ttsCfg     config.TTSConfig
	country    string
	channel    string
	nodeID     string
	recognizer stt.Recognizer
	engine     dialogue.Engine
	synth      tts.Synthesizer
	identity   identity.Resolver
	escalator  escalation.Escalator
	normalizer *normalizer.Normalizer
	store      EventStore
	publisher  Publisher
	log        *slog.Logger
	now        func() time.Time
	resampler  *audio.Resampler
	registry   *Registry
	inst       *instruments
	pending    sync.WaitGroup
}

func NewManager(deps Dependencies) (*Manager, error) {
	if deps.Recognizer == nil {
		return nil, errors.New("session: recognizer is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("session: dialogue engine is required")
	}
	if deps.Synth == nil {
		return nil, errors.New("session: synthesizer is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Identity == nil {
		resolver, err := identity.New(config.IdentityConfig{Mode: "none"})
		if err != nil {
			return nil, err
		}
		deps.Identity = resolver
	}
	if deps.Escalator == nil {
		esc, err := escalation.New(config.EscalationConfig{Mode: "log"}, nil, nil, deps.Logger)
		if err != nil {
			return nil, err
		}
		deps.Escalator = esc
	}
	if deps.Normalizer == nil {
		deps.Normalizer = normalizer.NewWithOverrides(deps.Config.Normalizer.DomainRewrite, normalizer.Overrides{})
	}

	m := &Manager{
		cfg:        deps.Config.Session,
		audioCfg:   deps.Config.Audio,
		vadCfg:     vad.ConfigFrom(deps.Config.VAD),
		ttsCfg:     deps.Config.TTS,
		country:    deps.Config.Telephony.CountryCode,
		channel:    deps.Config.Dialogue.Channel,
		nodeID:     deps.Config.Node.ID,
		recognizer: deps.Recognizer,
		engine:     deps.Engine,
		synth:      deps.Synth,
		identity:   deps.Identity,
		escalator:  deps.Escalator,
		normalizer: deps.Normalizer,
		store:      deps.Store,
		publisher:  deps.Publisher,
		log:        deps.Logger.With(slog.String("component", "session")),
		now:        deps.Now,
		resampler:  audio.NewResampler(deps.Config.Audio.FilterTaps),
		registry:   NewRegistry(),
	}
	if m.channel == "" {
		m.channel = "voice"
	}
	inst, err := newInstruments(func() int64 { return int64(m.registry.Count()) })
	if err != nil {
		return nil, fmt.Errorf("session metrics: %w", err)
	}
	m.inst = inst
	return m, nil
}

func (m *Manager) Registry() *Registry { return m.registry }

// ActiveCalls is the number of sessions currently registered.
func (m *Manager) ActiveCalls() int { return m.registry.Count() }

type inboundFrame struct {
	data []byte
	err  error
}

// Serve runs one media stream until the call ends. It returns an error only
// when the stream fails before the call starts.
func (m *Manager) Serve(ctx context.Context, conn Conn) error {
	if m.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(m.cfg.MaxMessageBytes)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan inboundFrame, inboundQueueSize)
	go readLoop(ctx, conn, frames)

	start, err := awaitStart(ctx, frames)
	if err != nil || start == nil {
		_ = conn.Close()
		return err
	}

	s := m.newSession(ctx, cancel, conn, start)
	unregister := m.registry.Register(s)
	defer unregister()
	return s.run(frames)
}

func readLoop(ctx context.Context, conn Conn, out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-ctx.Done():
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		select {
		case out <- inboundFrame{data: data}:
		case <-ctx.Done():
			return
		}
	}
}

// awaitStart consumes frames until the stream's start event. A stop or close
// before start yields a nil start and no error.
func awaitStart(ctx context.Context, frames <-chan inboundFrame) (*telephony.Event, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, nil
		case f, ok := <-frames:
			if !ok {
				return nil, nil
			}
			if f.err != nil {
				if isNormalClose(f.err) {
					return nil, nil
				}
				return nil, fmt.Errorf("read stream: %w", f.err)
			}
			evt, err := telephony.Parse(f.data)
			if err != nil {
				return nil, err
			}
			if evt == nil {
				continue
			}
			switch evt.Kind {
			case telephony.EventStart:
				return evt, nil
			case telephony.EventStop:
				return nil, nil
			}
		}
	}
}

func (m *Manager) newSession(ctx context.Context, cancel context.CancelFunc, conn Conn, evt *telephony.Event) *VoiceSession {
	start := evt.Start
	phone := telephony.NormalizePhone(start.Phone(), m.country)
	id := strings.TrimSpace(start.Params["session_id"])
	if id == "" {
		id = newSessionID(phone)
	}
	streamSID := start.StreamSID
	if streamSID == "" {
		streamSID = evt.StreamSID
	}

	now := m.now()
	s := &VoiceSession{
		ID:           id,
		StreamSID:    streamSID,
		CallSID:      start.CallSID,
		AccountSID:   start.AccountSID,
		Phone:        phone,
		Params:       start.Params,
		mgr:          m,
		cfg:          m.cfg,
		conn:         conn,
		ctx:          ctx,
		cancel:       cancel,
		state:        StateConnecting,
		language:     m.cfg.DefaultLanguage,
		startedAt:    now,
		lastActivity: now,
		segmenter:    vad.New(m.vadCfg),
		results:      make(chan turnResult, 1),
		writerDone:   make(chan struct{}),
		writerErr:    make(chan error, 1),
		outPriority:  make(chan outboundFrame, priorityQueueSize),
		outNormal:    make(chan outboundFrame, outboundQueueSize),
		frameBytes:   frameBytes(m.audioCfg.FrameMS),
		idleDeadline: ms(m.cfg.IdleTimeoutMS),
	}
	if m.cfg.InboundFramesPerSec > 0 {
		burst := m.cfg.InboundBurst
		if burst <= 0 {
			burst = m.cfg.InboundFramesPerSec
		}
		s.limiter = rate.NewLimiter(rate.Limit(m.cfg.InboundFramesPerSec), burst)
	}
	s.log = m.log.With(
		slog.String("session_id", s.ID),
		slog.String("call_id", s.CallSID),
		slog.String("stream_id", s.StreamSID),
	)
	if m.store != nil {
		rctx, rcancel := context.WithTimeout(context.Background(), recordTimeout)
		defer rcancel()
		if err := m.store.StartCall(rctx, eventstore.Call{
			SessionID: s.ID,
			CallSID:   s.CallSID,
			Phone:     s.Phone,
			Language:  s.language,
			StartedAt: now.UTC(),
		}); err != nil {
			s.log.Warn("failed to record call start", slogError(err))
		}
	}
	return s
}

func newSessionID(phone string) string {
	if phone == "" {
		phone = "unknown"
	}
	return fmt.Sprintf("voice-%s-%s", phone, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func frameBytes(frameMS int) int {
	if frameMS <= 0 {
		frameMS = 20
	}
	return audio.TelephonyRate * frameMS / 1000
}

// prepare conditions captured 8 kHz audio for the recognizer.
func (m *Manager) prepare(pcm []byte) []byte {
	if m.audioCfg.BandLowHz > 0 && m.audioCfg.BandHighHz > m.audioCfg.BandLowHz {
		pcm = audio.Bandpass(pcm, m.audioCfg.BandLowHz, m.audioCfg.BandHighHz, audio.TelephonyRate)
	} else {
		pcm = audio.RemoveDC(pcm)
	}
	if m.audioCfg.NoiseSuppress {
		pcm = audio.SuppressNoise(pcm)
	}
	if m.audioCfg.TrimSilenceDB < 0 {
		pcm = audio.TrimSilence(pcm, audio.TelephonyRate, m.audioCfg.FrameMS, m.audioCfg.TrimSilenceDB)
	}
	return m.resampler.Up(pcm)
}

// toTelephony converts synthesized PCM16 to 8 kHz µ-law.
func (m *Manager) toTelephony(pcm []byte, sampleRate int) ([]byte, error) {
	if sampleRate == 0 {
		sampleRate = m.ttsCfg.SampleRate
	}
	switch sampleRate {
	case audio.TelephonyRate:
	case audio.RecognizerRate:
		pcm = m.resampler.Down(pcm)
	default:
		return nil, fmt.Errorf("unsupported synthesis sample rate %d", sampleRate)
	}
	return audio.EncodeMulaw(pcm), nil
}

// record writes evt to the timeline and publishes it. Failures are logged;
// the call carries on.
func (m *Manager) record(evt protocol.CallEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		m.log.Warn("failed to encode call event", slog.String("type", evt.Type), slogError(err))
		return
	}
	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		err := m.store.AppendEvent(ctx, eventstore.Event{
			SessionID: evt.SessionID,
			Type:      evt.Type,
			Turn:      evt.Turn,
			Payload:   payload,
			CreatedAt: evt.Timestamp,
		})
		cancel()
		if err != nil {
			m.log.Warn("failed to record call event", slog.String("type", evt.Type), slogError(err))
		}
	}
	if m.publisher != nil {
		if err := m.publisher.PublishJSON(evt.Subject(), evt); err != nil {
			m.log.Warn("failed to publish call event", slog.String("type", evt.Type), slogError(err))
		}
	}
}

func (m *Manager) endCall(sessionID, reason string, turns int) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := m.store.EndCall(ctx, sessionID, reason, turns); err != nil {
		m.log.Warn("failed to record call end", slog.String("session_id", sessionID), slogError(err))
	}
}

// notifyEnd tells the dialogue engine the call is over without waiting for
// the answer.
func (m *Manager) notifyEnd(sessionID, phone, language string) {
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), ms(m.cfg.NotifyTimeoutMS))
		defer cancel()
		_, err := m.engine.Send(ctx, dialogue.Request{
			SessionID: sessionID,
			Message:   dialogue.SessionEndMessage,
			Metadata:  map[string]any{"phone_number": phone, "language": language},
		})
		if err != nil {
			m.log.Debug("session end notification failed", slog.String("session_id", sessionID), slogError(err))
		}
	}()
}

// Shutdown ends every live call and waits for them to release, bounded by
// ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	if n := m.registry.CancelAll(); n > 0 {
		m.log.Info("ending live calls", slog.Int("count", n))
	}
	if !m.registry.Wait(ctx) {
		return fmt.Errorf("sessions still draining: %w", ctx.Err())
	}
	done := make(chan struct{})
	go func() {
		m.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("end notifications pending: %w", ctx.Err())
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, context.Canceled)
}
