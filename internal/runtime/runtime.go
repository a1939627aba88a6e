package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/loqalabs/loqa-callbot/internal/bus"
	"github.com/loqalabs/loqa-callbot/internal/capability"
	"github.com/loqalabs/loqa-callbot/internal/config"
	"github.com/loqalabs/loqa-callbot/internal/dialogue"
	"github.com/loqalabs/loqa-callbot/internal/escalation"
	"github.com/loqalabs/loqa-callbot/internal/eventstore"
	"github.com/loqalabs/loqa-callbot/internal/gateway"
	"github.com/loqalabs/loqa-callbot/internal/identity"
	"github.com/loqalabs/loqa-callbot/internal/natsserver"
	"github.com/loqalabs/loqa-callbot/internal/normalizer"
	"github.com/loqalabs/loqa-callbot/internal/session"
	"github.com/loqalabs/loqa-callbot/internal/stt"
	"github.com/loqalabs/loqa-callbot/internal/telephony"
	"github.com/loqalabs/loqa-callbot/internal/tts"
)

const (
	shutdownTimeout = 10 * time.Second
	pruneInterval   = time.Hour
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	nats        *natsserver.EmbeddedServer
	bus         *bus.Client
	store       *eventstore.Store
	nodes       *capability.Registry
	sessions    *session.Manager
	gateway     *gateway.Server
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up the call pipeline and serves it until ctx is done, then
// drains live calls and releases everything it started.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.cancel = cancel

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.startInfrastructure(ctx); err != nil {
		return errors.Join(err, r.shutdown())
	}
	if err := r.startPipeline(ctx, metricsHandler); err != nil {
		return errors.Join(err, r.shutdown())
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.gateway.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	r.gateway.SetReady(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("node_id", r.cfg.Node.ID),
		slog.String("stream_url", telephony.NewClient(r.cfg.Telephony).StreamURL()))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	return r.shutdown()
}

func (r *Runtime) startInfrastructure(ctx context.Context) error {
	var err error
	if r.cfg.Bus.Enabled {
		r.nats, err = natsserver.Start(r.cfg.Bus, r.logger.With(slog.String("component", "nats")))
		if err != nil {
			return fmt.Errorf("failed to start embedded NATS: %w", err)
		}
		busCfg := r.cfg.Bus
		if r.nats != nil {
			busCfg.Servers = []string{r.nats.ClientURL()}
		}
		r.bus, err = bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
		if err != nil {
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
		maxAge := time.Duration(r.cfg.EventStore.RetentionDays) * 24 * time.Hour
		if err := r.bus.EnsureCallStream(maxAge); err != nil {
			r.logger.Warn("call event stream unavailable", slog.String("error", err.Error()))
		}
	}

	r.store, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.store.RunPruner(ctx, pruneInterval)
	}()
	return nil
}

func (r *Runtime) startPipeline(ctx context.Context, metricsHandler http.Handler) error {
	recognizer, err := stt.New(r.cfg.STT)
	if err != nil {
		return fmt.Errorf("failed to create recognizer: %w", err)
	}
	engine, err := dialogue.New(r.cfg.Dialogue)
	if err != nil {
		return fmt.Errorf("failed to create dialogue engine: %w", err)
	}
	synth, err := tts.New(r.cfg.TTS)
	if err != nil {
		return fmt.Errorf("failed to create synthesizer: %w", err)
	}
	resolver, err := identity.New(r.cfg.Identity)
	if err != nil {
		return fmt.Errorf("failed to create identity resolver: %w", err)
	}
	norm, err := normalizer.New(r.cfg.Normalizer)
	if err != nil {
		return fmt.Errorf("failed to load normalizer: %w", err)
	}

	tel := telephony.NewClient(r.cfg.Telephony)
	var dialer escalation.Dialer
	if tel.Configured() {
		dialer = tel
	}
	escalator, err := escalation.New(r.cfg.Escalation, r.bus, dialer, r.logger)
	if err != nil {
		return fmt.Errorf("failed to create escalator: %w", err)
	}

	deps := session.Dependencies{
		Config:     r.cfg,
		Recognizer: recognizer,
		Engine:     engine,
		Synth:      synth,
		Identity:   resolver,
		Escalator:  escalator,
		Normalizer: norm,
		Store:      r.store,
		Logger:     r.logger.With(slog.String("component", "session")),
	}
	if r.bus != nil {
		deps.Publisher = r.bus
	}
	r.sessions, err = session.NewManager(deps)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	opts := gateway.Options{
		Config:    r.cfg,
		Sessions:  r.sessions,
		Telephony: tel,
		Timeline:  r.store,
		Metrics:   metricsHandler,
		Logger:    r.logger,
	}
	if r.bus != nil {
		r.nodes, err = capability.NewRegistry(ctx, r.cfg.Node, r.bus, r.sessions.ActiveCalls, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start capability registry: %w", err)
		}
		opts.Nodes = r.nodes
		opts.Healthy = r.bus.Healthy
	}
	r.gateway, err = gateway.New(opts)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	return nil
}

// shutdown releases components in reverse start order. Live calls end first
// so their final events still reach the store and the bus.
func (r *Runtime) shutdown() error {
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	var errs []error
	if r.gateway != nil {
		r.gateway.SetReady(false)
	}
	if r.sessions != nil {
		if err := r.sessions.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("session drain error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if r.nodes != nil {
		r.nodes.Close()
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()

	if r.bus != nil {
		r.bus.Close()
	}
	if r.nats != nil {
		r.nats.Shutdown()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
