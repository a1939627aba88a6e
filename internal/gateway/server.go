// Package gateway serves the callbot's HTTP surface: the Twilio webhooks, the
// media stream WebSocket and the operator API.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-callbot/internal/capability"
	"github.com/loqalabs/loqa-callbot/internal/config"
	"github.com/loqalabs/loqa-callbot/internal/eventstore"
	"github.com/loqalabs/loqa-callbot/internal/session"
	"github.com/loqalabs/loqa-callbot/internal/telephony"
)

const (
	maxFormBytes    = 64 << 10
	maxJSONBytes    = 16 << 10
	defaultPageSize = 50
	maxPageSize     = 500
)

// Timeline reads the recorded call history.
type Timeline interface {
	ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]eventstore.Event, error)
	RecentCalls(ctx context.Context, limit int) ([]eventstore.Call, error)
}

// Nodes reports cluster capacity.
type Nodes interface {
	HasCapacity() bool
	Query(filter func(capability.NodeInfo) bool) []capability.NodeInfo
	LeastLoaded() (capability.NodeInfo, bool)
}

// Options wires a Server. Timeline, Nodes and Metrics are optional.
type Options struct {
	Config    config.Config
	Sessions  *session.Manager
	Telephony *telephony.Client
	Timeline  Timeline
	Nodes     Nodes
	Metrics   http.Handler
	Healthy   func() bool
	Logger    *slog.Logger
}

type Server struct {
	cfg       config.Config
	sessions  *session.Manager
	telephony *telephony.Client
	timeline  Timeline
	nodes     Nodes
	healthy   func() bool
	log       *slog.Logger
	upgrader  websocket.Upgrader
	mux       *http.ServeMux
	ready     atomic.Bool
}

func New(opts Options) (*Server, error) {
	if opts.Sessions == nil {
		return nil, errors.New("gateway: session manager is required")
	}
	if opts.Telephony == nil {
		opts.Telephony = telephony.NewClient(opts.Config.Telephony)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		cfg:       opts.Config,
		sessions:  opts.Sessions,
		telephony: opts.Telephony,
		timeline:  opts.Timeline,
		nodes:     opts.Nodes,
		healthy:   opts.Healthy,
		log:       opts.Logger.With(slog.String("component", "gateway")),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			// Twilio does not send an Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.routes(opts.Metrics)
	return s, nil
}

func (s *Server) routes(metrics http.Handler) {
	tel := s.cfg.Telephony
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /readyz", s.handleReady)
	if metrics != nil {
		s.mux.Handle("GET /metrics", metrics)
	}

	s.mux.HandleFunc("POST "+tel.VoicePath, s.handleVoice)
	s.mux.HandleFunc("POST "+telephony.StatusPath, s.handleStatus)
	s.mux.HandleFunc("GET "+tel.StreamPath, s.handleStream)

	s.mux.Handle("POST /api/v1/calls", s.admin(s.handleDial))
	s.mux.Handle("GET /api/v1/calls", s.admin(s.handleRecentCalls))
	s.mux.Handle("GET /api/v1/sessions", s.admin(s.handleSessions))
	s.mux.Handle("GET /api/v1/sessions/{id}/events", s.admin(s.handleSessionEvents))
	s.mux.Handle("GET /api/v1/nodes", s.admin(s.handleNodes))
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

// SetReady flips the readiness probe.
func (s *Server) SetReady(ready bool) { s.ready.Store(ready) }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.ready.Load() && (s.healthy == nil || s.healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// handleVoice answers an incoming or outbound call with TwiML that connects
// it to the media stream, or turns it away when the node is full.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if !s.parseWebhook(w, r) {
		return
	}
	callSID := r.PostForm.Get("CallSid")
	phone := r.PostForm.Get("From")
	if strings.HasPrefix(r.PostForm.Get("Direction"), "outbound") {
		phone = r.PostForm.Get("To")
	}
	log := s.log.With(slog.String("call_id", callSID))

	if !s.hasCapacity() {
		attrs := []any{slog.Int("active_calls", s.sessions.ActiveCalls())}
		if node, ok := s.spareNode(); ok {
			attrs = append(attrs, slog.String("spare_node", node.ID), slog.Int("spare_slots", node.Available()))
		}
		log.Warn("rejecting call at capacity", attrs...)
		writeTwiML(w, telephony.ConnectStreamTwiML("", nil))
		return
	}

	params := map[string]string{}
	if phone != "" {
		params["phone"] = phone
	}
	streamURL := s.telephony.StreamURL()
	if streamURL == "" {
		log.Error("cannot answer call: telephony.public_url is not set")
	}
	log.Info("answering call", slog.String("direction", r.PostForm.Get("Direction")))
	writeTwiML(w, telephony.ConnectStreamTwiML(streamURL, params))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.parseWebhook(w, r) {
		return
	}
	s.log.Info("call status",
		slog.String("call_id", r.PostForm.Get("CallSid")),
		slog.String("status", r.PostForm.Get("CallStatus")),
		slog.String("duration", r.PostForm.Get("CallDuration")))
	writeTwiML(w, telephony.EmptyTwiML)
}

// parseWebhook reads the form body and checks the request signature when
// verification is enabled. It writes the error response itself.
func (s *Server) parseWebhook(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return false
	}
	if !s.cfg.Telephony.VerifySignatures {
		return true
	}
	fullURL := strings.TrimRight(s.cfg.Telephony.PublicURL, "/") + r.URL.RequestURI()
	if !telephony.VerifySignature(s.telephony.AuthToken(), r.Header.Get("X-Twilio-Signature"), fullURL, r.PostForm) {
		s.log.Warn("rejected webhook with bad signature", slog.String("path", r.URL.Path))
		http.Error(w, "invalid signature", http.StatusForbidden)
		return false
	}
	return true
}

func (s *Server) hasCapacity() bool {
	if limit := s.cfg.Node.MaxCalls; limit > 0 && s.sessions.ActiveCalls() >= limit {
		return false
	}
	if s.nodes != nil {
		return s.nodes.HasCapacity()
	}
	return true
}

// spareNode is the least loaded peer that can still take a call.
func (s *Server) spareNode() (capability.NodeInfo, bool) {
	if s.nodes == nil {
		return capability.NodeInfo{}, false
	}
	node, ok := s.nodes.LeastLoaded()
	if !ok || node.ID == s.cfg.Node.ID {
		return capability.NodeInfo{}, false
	}
	return node, true
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("media stream upgrade failed", slogError(err))
		return
	}
	if err := s.sessions.Serve(r.Context(), conn); err != nil {
		s.log.Warn("media stream ended before call start", slogError(err))
	}
}

type dialRequest struct {
	To string `json:"to"`
}

func (s *Server) handleDial(w http.ResponseWriter, r *http.Request) {
	var req dialRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if telephony.NormalizePhone(req.To, s.cfg.Telephony.CountryCode) == "" {
		writeError(w, http.StatusBadRequest, "to must be a phone number")
		return
	}
	if !s.hasCapacity() {
		msg := "no call capacity"
		if node, ok := s.spareNode(); ok {
			msg = fmt.Sprintf("no call capacity on this node; %s has %d free", node.ID, node.Available())
		}
		writeError(w, http.StatusServiceUnavailable, msg)
		return
	}

	result, err := s.telephony.InitiateCall(r.Context(), req.To)
	if errors.Is(err, telephony.ErrNotConfigured) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		s.log.Error("outbound call failed", slogError(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.log.Info("outbound call placed", slog.String("call_id", result.SID), slog.String("status", result.Status))
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	snaps := s.sessions.Registry().Snapshots()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(snaps),
		"sessions": snaps,
	})
}

type eventView struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Turn      int             `json:"turn"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	if s.timeline == nil {
		writeError(w, http.StatusNotFound, "event store disabled")
		return
	}
	id := r.PathValue("id")
	events, err := s.timeline.ListSessionEvents(r.Context(), id, pageSize(r))
	if err != nil {
		s.log.Error("list session events failed", slog.String("session_id", id), slogError(err))
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}
	views := make([]eventView, 0, len(events))
	for _, e := range events {
		v := eventView{ID: e.ID, Type: e.Type, Turn: e.Turn, CreatedAt: e.CreatedAt}
		if json.Valid(e.Payload) {
			v.Payload = e.Payload
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"events":     views,
	})
}

type callView struct {
	SessionID string     `json:"session_id"`
	CallSID   string     `json:"call_sid,omitempty"`
	Phone     string     `json:"phone,omitempty"`
	Language  string     `json:"language,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason string     `json:"end_reason,omitempty"`
	Turns     int        `json:"turns"`
}

func (s *Server) handleRecentCalls(w http.ResponseWriter, r *http.Request) {
	if s.timeline == nil {
		writeError(w, http.StatusNotFound, "event store disabled")
		return
	}
	calls, err := s.timeline.RecentCalls(r.Context(), pageSize(r))
	if err != nil {
		s.log.Error("list calls failed", slogError(err))
		writeError(w, http.StatusInternalServerError, "failed to read calls")
		return
	}
	views := make([]callView, 0, len(calls))
	for _, c := range calls {
		v := callView{
			SessionID: c.SessionID,
			CallSID:   c.CallSID,
			Phone:     c.Phone,
			Language:  c.Language,
			StartedAt: c.StartedAt,
			EndReason: c.EndReason,
			Turns:     c.Turns,
		}
		if !c.EndedAt.IsZero() {
			ended := c.EndedAt
			v.EndedAt = &ended
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": views})
}

func (s *Server) handleNodes(w http.ResponseWriter, _ *http.Request) {
	var nodes []capability.NodeInfo
	if s.nodes != nil {
		nodes = s.nodes.Query(nil)
	}
	if nodes == nil {
		nodes = []capability.NodeInfo{{
			ID:          s.cfg.Node.ID,
			Role:        s.cfg.Node.Role,
			MaxCalls:    s.cfg.Node.MaxCalls,
			ActiveCalls: s.sessions.ActiveCalls(),
			LastSeen:    time.Now().UTC(),
			Healthy:     true,
		}}
	}
	payload := map[string]any{"nodes": nodes}
	if s.nodes != nil {
		if best, ok := s.nodes.LeastLoaded(); ok {
			payload["least_loaded"] = best.ID
		}
	} else if s.hasCapacity() {
		payload["least_loaded"] = nodes[0].ID
	}
	writeJSON(w, http.StatusOK, payload)
}

// admin guards the operator API with the configured bearer token.
func (s *Server) admin(next http.HandlerFunc) http.Handler {
	token := s.cfg.HTTP.AdminToken
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(strings.ToLower(auth), "bearer ") ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[7:])), []byte(token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

func pageSize(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultPageSize
	}
	return min(n, maxPageSize)
}

func writeTwiML(w http.ResponseWriter, twiml string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(twiml))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
