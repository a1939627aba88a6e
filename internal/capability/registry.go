// Package capability tracks callbot nodes and their call load over the bus.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loqalabs/loqa-callbot/internal/bus"
	"github.com/loqalabs/loqa-callbot/internal/config"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	subjectAnnounce  = "ctrl.node.announce"
	subjectHeartbeat = "ctrl.node.heartbeat"
)

// LoadFunc reports the number of calls this node is currently serving.
type LoadFunc func() int

type NodeInfo struct {
	ID          string    `json:"id"`
	Role        string    `json:"role"`
	MaxCalls    int       `json:"max_calls"`
	ActiveCalls int       `json:"active_calls"`
	LastSeen    time.Time `json:"last_seen"`
	Healthy     bool      `json:"healthy"`
}

// Available is the number of calls the node can still accept.
func (n NodeInfo) Available() int {
	if n.MaxCalls <= 0 {
		return 0
	}
	if free := n.MaxCalls - n.ActiveCalls; free > 0 {
		return free
	}
	return 0
}

type announceMessage struct {
	NodeID    string    `json:"node_id"`
	Role      string    `json:"role"`
	MaxCalls  int       `json:"max_calls"`
	Timestamp time.Time `json:"timestamp"`
}

type heartbeatMessage struct {
	NodeID      string    `json:"node_id"`
	ActiveCalls int       `json:"active_calls"`
	Timestamp   time.Time `json:"timestamp"`
}

type Registry struct {
	cfg        config.NodeConfig
	log        *slog.Logger
	bus        *bus.Client
	load       LoadFunc
	mu         sync.RWMutex
	nodes      map[string]*NodeInfo
	heartbeat  *time.Ticker
	cancel     context.CancelFunc
	subs       []*nats.Subscription
	meter      metric.Meter
	nodeGauge  metric.Int64ObservableGauge
	callsGauge metric.Int64ObservableGauge
	clock      func() time.Time
}

func NewRegistry(ctx context.Context, cfg config.NodeConfig, busClient *bus.Client, load LoadFunc, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	if load == nil {
		load = func() int { return 0 }
	}
	r := &Registry{
		cfg:    cfg,
		log:    log.With(slog.String("component", "capability-registry")),
		bus:    busClient,
		load:   load,
		nodes:  make(map[string]*NodeInfo),
		meter:  otel.Meter("github.com/loqalabs/loqa-callbot/capability"),
		cancel: cancel,
		clock:  time.Now,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		r.cancel()
		return nil, err
	}

	r.heartbeat = time.NewTicker(time.Duration(cfg.HeartbeatInterval) * time.Millisecond)
	go r.runHeartbeat(ctx)
	go r.monitorHealth(ctx)

	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce node", slog.String("error", err.Error()))
	}

	return r, nil
}

func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.heartbeat != nil {
		r.heartbeat.Stop()
	}
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(r.bus.Subject(subjectAnnounce), r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(r.bus.Subject(subjectHeartbeat+".*"), r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)

	return nil
}

func (r *Registry) runHeartbeat(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.heartbeat.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Registry) monitorHealth(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evaluateHealth()
		}
	}
}

func (r *Registry) announce() error {
	msg := announceMessage{
		NodeID:    r.cfg.ID,
		Role:      r.cfg.Role,
		MaxCalls:  r.cfg.MaxCalls,
		Timestamp: r.clock().UTC(),
	}
	if err := r.bus.PublishJSON(subjectAnnounce, msg); err != nil {
		return err
	}
	r.updateNode(msg.NodeID, msg.Role, msg.MaxCalls, r.load(), msg.Timestamp)
	return nil
}

func (r *Registry) publishHeartbeat() error {
	msg := heartbeatMessage{
		NodeID:      r.cfg.ID,
		ActiveCalls: r.load(),
		Timestamp:   r.clock().UTC(),
	}
	return r.bus.PublishJSON(fmt.Sprintf("%s.%s", subjectHeartbeat, r.cfg.ID), msg)
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement announceMessage
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		r.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = r.clock().UTC()
	}
	r.updateNode(announcement.NodeID, announcement.Role, announcement.MaxCalls, -1, announcement.Timestamp)
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb heartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = r.clock().UTC()
	}
	r.updateNode(hb.NodeID, "", 0, hb.ActiveCalls, hb.Timestamp)
}

// updateNode merges an observation; zero or negative values leave the stored
// field untouched.
func (r *Registry) updateNode(nodeID, role string, maxCalls, activeCalls int, timestamp time.Time) {
	if nodeID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		node = &NodeInfo{ID: nodeID}
		r.nodes[nodeID] = node
	}
	if role != "" {
		node.Role = role
	}
	if maxCalls > 0 {
		node.MaxCalls = maxCalls
	}
	if activeCalls >= 0 {
		node.ActiveCalls = activeCalls
	}
	node.LastSeen = timestamp
	node.Healthy = true
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeout) * time.Millisecond
	now := r.clock()
	for _, node := range r.nodes {
		if now.Sub(node.LastSeen) > timeout {
			node.Healthy = false
		}
	}
}

func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[r.cfg.ID]
	if !ok {
		return false
	}
	return node.Healthy
}

// HasCapacity reports whether this node may accept another call.
func (r *Registry) HasCapacity() bool {
	if r.cfg.MaxCalls <= 0 {
		return true
	}
	return r.load() < r.cfg.MaxCalls
}

func (r *Registry) Query(filter func(NodeInfo) bool) []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []NodeInfo
	for _, node := range r.nodes {
		snapshot := *node
		if snapshot.ID == r.cfg.ID {
			snapshot.ActiveCalls = r.load()
		}
		if filter == nil || filter(snapshot) {
			results = append(results, snapshot)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}

// LeastLoaded returns the healthy node with the most free call slots.
func (r *Registry) LeastLoaded() (NodeInfo, bool) {
	var best NodeInfo
	found := false
	for _, node := range r.Query(Healthy) {
		if node.Available() == 0 {
			continue
		}
		if !found || node.Available() > best.Available() {
			best = node
			found = true
		}
	}
	return best, found
}

func (r *Registry) initMetrics() error {
	if r.meter == nil {
		return nil
	}
	gauge, err := r.meter.Int64ObservableGauge("callbot.nodes", metric.WithDescription("Number of known callbot nodes"))
	if err != nil {
		return err
	}
	callsGauge, err := r.meter.Int64ObservableGauge("callbot.cluster.active_calls", metric.WithDescription("Calls in progress across healthy nodes"))
	if err != nil {
		return err
	}
	r.nodeGauge = gauge
	r.callsGauge = callsGauge
	_, err = r.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		nodes, calls := r.snapshotCounts()
		obs.ObserveInt64(gauge, nodes)
		obs.ObserveInt64(callsGauge, calls)
		return nil
	}, gauge, callsGauge)
	return err
}

func (r *Registry) snapshotCounts() (int64, int64) {
	var nodes, calls int64
	for _, node := range r.Query(nil) {
		nodes++
		if node.Healthy {
			calls += int64(node.ActiveCalls)
		}
	}
	return nodes, calls
}

// Healthy filters nodes that have sent a heartbeat recently.
func Healthy(node NodeInfo) bool { return node.Healthy }

// WithRole filters nodes by role.
func WithRole(role string) func(NodeInfo) bool {
	return func(node NodeInfo) bool { return node.Role == role }
}
