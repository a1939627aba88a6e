// Package session owns live calls: it buffers caller audio, decides when an
// utterance is complete, runs one recognize-reply-speak round trip at a time
// and tears the call down exactly once.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-callbot/internal/audio"
	"github.com/loqalabs/loqa-callbot/internal/config"
	"github.com/loqalabs/loqa-callbot/internal/identity"
	"github.com/loqalabs/loqa-callbot/internal/normalizer"
	"github.com/loqalabs/loqa-callbot/internal/protocol"
	"github.com/loqalabs/loqa-callbot/internal/telephony"
	"github.com/loqalabs/loqa-callbot/internal/vad"
	"golang.org/x/time/rate"
)

// State is the call phase.
type State int

const (
	StateConnecting State = iota
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	default:
		return "closed"
	}
}

// End reasons.
const (
	ReasonStopped   = "stopped"
	ReasonTransport = "transport_error"
	ReasonMalformed = "malformed_frame"
	ReasonIdle      = "idle_timeout"
	ReasonFailures  = "collaborator_failures"
	ReasonShutdown  = "shutdown"
)

// Flush triggers.
const (
	flushEndpoint  = "endpoint"
	flushMinBuffer = "min_buffer"
)

const (
	preRollMS         = 300
	confidenceHistory = 10
	idleCheckInterval = time.Second
)

var errWriterClosed = errors.New("session: outbound writer closed")

// Snapshot is a point-in-time view of a session, safe to hand to other
// goroutines.
type Snapshot struct {
	SessionID     string    `json:"session_id"`
	CallSID       string    `json:"call_sid"`
	StreamSID     string    `json:"stream_sid"`
	Phone         string    `json:"phone"`
	DriverID      string    `json:"driver_id,omitempty"`
	DriverName    string    `json:"driver_name,omitempty"`
	State         string    `json:"state"`
	Language      string    `json:"language"`
	Turns         int       `json:"turns"`
	BufferedMS    int       `json:"buffered_ms"`
	HandedOff     bool      `json:"handed_off"`
	AvgConfidence float64   `json:"avg_confidence"`
	AvgSentiment  *float64  `json:"avg_sentiment,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	LastActivity  time.Time `json:"last_activity"`
}

// VoiceSession is one call. Everything below the identity fields is written
// only by the session goroutine; mu guards the fields Snapshot reads from
// other goroutines.
type VoiceSession struct {
	ID         string
	StreamSID  string
	CallSID    string
	AccountSID string
	Phone      string
	Params     map[string]string

	mgr  *Manager
	cfg  config.SessionConfig
	log  *slog.Logger
	conn Conn

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	state        State
	language     string
	turns        int
	driver       identity.Driver
	startedAt    time.Time
	lastActivity time.Time
	handedOff    bool
	bufferedMS   int
	confidences  []float64
	sentiments   []float64

	buffer       []byte
	speechSeen   bool
	finalPending bool
	segmenter    *vad.Segmenter
	limiter      *rate.Limiter
	failures     int
	utterances   int
	inFlight     bool
	turnCancel   context.CancelFunc
	results      chan turnResult
	endOnce      sync.Once
	writerDone   chan struct{}
	writerErr    chan error
	outPriority  chan outboundFrame
	outNormal    chan outboundFrame
	frameBytes   int
	idleDeadline time.Duration
}

// Cancel asks the session to end. It is safe to call from any goroutine and
// more than once.
func (s *VoiceSession) Cancel() { s.cancel() }

// Snapshot copies the session's observable state.
func (s *VoiceSession) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		SessionID:    s.ID,
		CallSID:      s.CallSID,
		StreamSID:    s.StreamSID,
		Phone:        s.Phone,
		DriverID:     s.driver.ID,
		DriverName:   s.driver.Name,
		State:        s.state.String(),
		Language:     s.language,
		Turns:        s.turns,
		BufferedMS:   s.bufferedMS,
		HandedOff:    s.handedOff,
		StartedAt:    s.startedAt,
		LastActivity: s.lastActivity,
	}
	if n := len(s.confidences); n > 0 {
		var sum float64
		for _, c := range s.confidences {
			sum += c
		}
		snap.AvgConfidence = sum / float64(n)
	}
	if n := len(s.sentiments); n > 0 {
		var sum float64
		for _, v := range s.sentiments {
			sum += v
		}
		avg := sum / float64(n)
		snap.AvgSentiment = &avg
	}
	return snap
}

func (s *VoiceSession) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *VoiceSession) currentState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *VoiceSession) touch() {
	s.mu.Lock()
	s.lastActivity = s.mgr.now()
	s.mu.Unlock()
}

type identityResult struct {
	driver identity.Driver
	err    error
}

// run drives the session until it reaches Closed.
func (s *VoiceSession) run(frames <-chan inboundFrame) error {
	go s.runWriter()

	s.mgr.record(s.event(protocol.EventCallStarted))
	s.log.Info("call started", slog.String("phone", s.Phone))

	identityCh := make(chan identityResult, 1)
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, ms(s.cfg.IdentityTimeoutMS))
		defer cancel()
		driver, err := s.mgr.identity.Lookup(ctx, s.Phone)
		identityCh <- identityResult{driver: driver, err: err}
	}()

	idle := time.NewTicker(idleCheckInterval)
	defer idle.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.end(ReasonShutdown)
		case f, ok := <-frames:
			switch {
			case !ok:
				s.end(ReasonTransport)
			case f.err != nil:
				if !isNormalClose(f.err) {
					s.log.Warn("stream read failed", slogError(f.err))
				}
				s.end(ReasonTransport)
			default:
				s.handleFrame(f.data)
			}
		case res := <-identityCh:
			s.activate(res)
		case res := <-s.results:
			s.complete(res)
		case err := <-s.writerErr:
			s.log.Warn("stream write failed", slogError(err))
			s.end(ReasonTransport)
		case <-idle.C:
			if s.idleDeadline > 0 && s.mgr.now().Sub(s.lastActivity) >= s.idleDeadline {
				s.end(ReasonIdle)
			}
		}
		if s.currentState() == StateClosed {
			return nil
		}
	}
}

func (s *VoiceSession) handleFrame(data []byte) {
	evt, err := telephony.Parse(data)
	if err != nil {
		s.log.Warn("malformed stream frame", slogError(err))
		s.end(ReasonMalformed)
		return
	}
	if evt == nil {
		return
	}
	switch evt.Kind {
	case telephony.EventMedia:
		s.handleMedia(evt.Media)
	case telephony.EventMark:
		s.log.Debug("playback mark", slog.String("mark", evt.Mark))
	case telephony.EventStop:
		s.end(ReasonStopped)
	case telephony.EventStart:
		s.log.Warn("duplicate start ignored")
	}
}

func (s *VoiceSession) activate(res identityResult) {
	if s.currentState() != StateConnecting {
		return
	}
	language := s.cfg.DefaultLanguage
	if res.err == nil {
		switch res.driver.PreferredLanguage {
		case normalizer.Hindi, normalizer.English, normalizer.Mixed:
			language = res.driver.PreferredLanguage
		}
	} else if !errors.Is(res.err, identity.ErrNotFound) {
		s.log.Warn("identity lookup failed", slogError(res.err))
	}

	s.mu.Lock()
	s.driver = res.driver
	s.language = language
	s.state = StateActive
	s.lastActivity = s.mgr.now()
	s.mu.Unlock()

	if res.driver.ID != "" {
		s.log = s.log.With(slog.String("driver_id", res.driver.ID))
	}
	s.log.Info("session active", slog.String("language", language))
	s.startOpening()
}

func (s *VoiceSession) handleMedia(m *telephony.Media) {
	if m == nil || len(m.Payload) == 0 || s.currentState() != StateActive || s.isHandedOff() {
		return
	}
	if m.Track != "" && m.Track != "inbound" {
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.mgr.inst.frames.Add(s.ctx, 1)
		return
	}

	pcm := audio.DecodeMulaw(m.Payload)
	isSpeech, final := s.segmenter.Process(pcm)

	s.buffer = append(s.buffer, pcm...)
	if isSpeech {
		s.speechSeen = true
		s.touch()
	}
	// An endpoint only counts for speech still in the buffer. A min-buffer
	// flush can take the utterance before its trailing silence completes.
	if final && s.speechSeen {
		s.finalPending = true
	}
	if !s.speechSeen {
		s.keepTail(preRollMS)
	} else if s.inFlight && s.cfg.MaxBufferMS > 0 {
		s.keepTail(s.cfg.MaxBufferMS)
	}
	s.syncBuffered()
	s.maybeFlush()
}

// keepTail trims the buffer from the front so at most limitMS remain.
func (s *VoiceSession) keepTail(limitMS int) {
	limit := limitMS * audio.TelephonyRate / 1000 * 2
	if len(s.buffer) > limit {
		s.buffer = append(s.buffer[:0], s.buffer[len(s.buffer)-limit:]...)
	}
}

func (s *VoiceSession) syncBuffered() {
	buffered := int(audio.Duration(s.buffer, audio.TelephonyRate) / time.Millisecond)
	s.mu.Lock()
	s.bufferedMS = buffered
	s.mu.Unlock()
}

func (s *VoiceSession) maybeFlush() {
	if s.inFlight || !s.speechSeen || s.currentState() != StateActive || s.isHandedOff() {
		return
	}
	reason := ""
	switch {
	case s.finalPending:
		reason = flushEndpoint
	case s.bufferedMS >= s.cfg.MinBufferMS:
		reason = flushMinBuffer
	default:
		return
	}
	s.flush(reason)
}

func (s *VoiceSession) flush(reason string) {
	pcm := s.buffer
	s.buffer = nil
	s.speechSeen = false
	s.finalPending = false
	s.syncBuffered()
	s.utterances++
	s.mgr.inst.flush(s.ctx, reason)

	s.mu.RLock()
	job := turnJob{
		utterance: s.utterances,
		pcm:       pcm,
		language:  s.language,
		phone:     s.Phone,
		driverID:  s.driver.ID,
		turn:      s.turns,
		reason:    reason,
	}
	s.mu.RUnlock()

	s.log.Debug("buffer flushed",
		slog.String("reason", reason),
		slog.Int("utterance", job.utterance),
		slog.Duration("audio", audio.Duration(pcm, audio.TelephonyRate)))
	s.startWorker(func(ctx context.Context) turnResult { return s.runTurn(ctx, job) })
}

func (s *VoiceSession) startOpening() {
	s.mu.RLock()
	job := openingJob{language: s.language, phone: s.Phone, driver: s.driver}
	s.mu.RUnlock()
	s.startWorker(func(ctx context.Context) turnResult { return s.runOpening(ctx, job) })
}

// startWorker runs fn as the session's single in-flight round trip.
func (s *VoiceSession) startWorker(fn func(context.Context) turnResult) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.inFlight = true
	s.turnCancel = cancel
	go func() {
		defer cancel()
		s.results <- fn(ctx)
	}()
}

func (s *VoiceSession) complete(res turnResult) {
	s.inFlight = false
	if s.turnCancel != nil {
		s.turnCancel()
		s.turnCancel = nil
	}
	if s.currentState() != StateActive {
		return
	}

	log := s.log.With(slog.Int("utterance", res.utterance))
	switch {
	case res.err != nil:
		s.failures++
		log.Warn("turn failed",
			slog.String("stage", res.stage),
			slog.Int("consecutive_failures", s.failures),
			slogError(res.err))
		if res.kind == kindReply {
			s.mgr.inst.drop(s.ctx, res.stage+"_error")
			s.recordDrop(res, res.stage+"_error")
		}
	case res.dropped != "":
		log.Debug("turn dropped", slog.String("reason", res.dropped))
		s.mgr.inst.drop(s.ctx, res.dropped)
		s.recordDrop(res, res.dropped)
	default:
		s.failures = 0
	}

	if res.kind == kindReply {
		s.applyReply(res, log)
	}

	if s.cfg.MaxFailures > 0 && s.failures >= s.cfg.MaxFailures {
		s.end(ReasonFailures)
		return
	}
	s.maybeFlush()
}

func (s *VoiceSession) applyReply(res turnResult, log *slog.Logger) {
	if res.accepted {
		s.mu.Lock()
		s.confidences = append(s.confidences, res.transcript.Confidence)
		if len(s.confidences) > confidenceHistory {
			s.confidences = s.confidences[len(s.confidences)-confidenceHistory:]
		}
		if res.sentimentOK {
			s.sentiments = append(s.sentiments, res.sentiment)
			if len(s.sentiments) > confidenceHistory {
				s.sentiments = s.sentiments[len(s.sentiments)-confidenceHistory:]
			}
		}
		previous := s.language
		s.language = res.language
		s.lastActivity = s.mgr.now()
		s.mu.Unlock()
		if previous != res.language {
			log.Info("language switched", slog.String("from", previous), slog.String("to", res.language))
			evt := s.event(protocol.EventLanguage)
			evt.Reason = previous
			s.mgr.record(evt)
		}
	}

	if res.reply == "" && !res.handoff {
		return
	}

	s.mu.Lock()
	s.turns++
	turn := s.turns
	if res.handoff {
		s.handedOff = true
	}
	s.mu.Unlock()

	s.mgr.inst.turns.Add(s.ctx, 1)
	evt := s.event(protocol.EventTurn)
	evt.Turn = turn
	evt.Transcript = res.transcript.Text
	evt.Corrected = res.correction.Corrected
	evt.Reply = res.reply
	evt.Confidence = res.confidence
	s.mgr.record(evt)

	if res.handoff {
		log.Info("call handed off", slog.Int("turn", turn))
		evt := s.event(protocol.EventHandoff)
		evt.Turn = turn
		evt.Transcript = res.correction.Corrected
		s.mgr.record(evt)
		s.buffer = nil
		s.speechSeen = false
		s.finalPending = false
		s.syncBuffered()
	}
}

func (s *VoiceSession) recordDrop(res turnResult, reason string) {
	evt := s.event(protocol.EventTurnDropped)
	evt.Transcript = res.transcript.Text
	evt.Confidence = res.transcript.Confidence
	evt.Reason = reason
	s.mgr.record(evt)
}

func (s *VoiceSession) isHandedOff() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handedOff
}

// end moves the session through Draining to Closed. Only the first call has
// any effect.
func (s *VoiceSession) end(reason string) {
	s.endOnce.Do(func() {
		s.setState(StateDraining)
		if s.turnCancel != nil {
			s.turnCancel()
			s.turnCancel = nil
		}
		s.buffer = nil
		s.syncBuffered()

		switch reason {
		case ReasonFailures, ReasonIdle:
			s.farewell()
		}

		s.mu.RLock()
		turns := s.turns
		language := s.language
		s.mu.RUnlock()

		s.mgr.notifyEnd(s.ID, s.Phone, language)

		evt := s.event(protocol.EventCallEnded)
		evt.Turn = turns
		evt.Reason = reason
		s.mgr.record(evt)
		s.mgr.endCall(s.ID, reason, turns)

		s.setState(StateClosed)
		s.cancel()
		s.log.Info("call ended", slog.String("reason", reason), slog.Int("turns", turns))
	})
}

// farewell speaks a short closing line before the call is released.
func (s *VoiceSession) farewell() {
	text := strings.TrimSpace(s.cfg.FarewellText)
	if text == "" {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, ms(s.cfg.TTSTimeoutMS))
	defer cancel()
	s.mu.RLock()
	language := s.language
	s.mu.RUnlock()
	if err := s.speak(ctx, text, language); err != nil {
		s.log.Warn("farewell failed", slogError(err))
	}
}

func (s *VoiceSession) event(kind string) protocol.CallEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return protocol.CallEvent{
		Type:      kind,
		SessionID: s.ID,
		CallSID:   s.CallSID,
		StreamSID: s.StreamSID,
		Phone:     s.Phone,
		NodeID:    s.mgr.nodeID,
		Language:  s.language,
		Timestamp: s.mgr.now().UTC(),
	}
}

func (s *VoiceSession) runWriter() {
	defer close(s.writerDone)
	w := outboundWriter{
		ws:           s.conn,
		ctx:          s.ctx,
		pingInterval: ms(s.cfg.PingIntervalMS),
		writeTimeout: ms(s.cfg.WriteTimeoutMS),
		priority:     s.outPriority,
		normal:       s.outNormal,
	}
	if err := w.Run(); err != nil {
		s.writerErr <- err
	}
}

// enqueue blocks until the writer accepts frame.
func (s *VoiceSession) enqueue(ctx context.Context, frame outboundFrame) error {
	select {
	case s.outNormal <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.writerDone:
		return errWriterClosed
	}
}

// clearPlayback tells the provider to drop audio it has queued but not yet
// played.
func (s *VoiceSession) clearPlayback() error {
	msg, err := telephony.ClearMessage(s.StreamSID)
	if err != nil {
		return err
	}
	select {
	case s.outPriority <- outboundFrame{payload: msg}:
		return nil
	case <-s.writerDone:
		return errWriterClosed
	default:
		return errors.New("session: priority queue full")
	}
}

func dialogueMetadata(phone, language string, confidence float64) map[string]any {
	return map[string]any{
		"phone_number": phone,
		"language":     language,
		"confidence":   confidence,
	}
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
