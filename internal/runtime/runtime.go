// Package runtime assembles the meditation service from configuration and
// runs it until the context is cancelled.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-meditation/internal/api"
	"github.com/loqalabs/loqa-meditation/internal/bus"
	"github.com/loqalabs/loqa-meditation/internal/config"
	"github.com/loqalabs/loqa-meditation/internal/eventstore"
	"github.com/loqalabs/loqa-meditation/internal/natsserver"
	"github.com/loqalabs/loqa-meditation/internal/relay"
	"github.com/loqalabs/loqa-meditation/internal/session"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer    *http.Server
	handler       http.Handler
	metrics       http.Handler
	tracerClose   func(context.Context) error
	store         *eventstore.Store
	embedded      *natsserver.EmbeddedServer
	busClient     *bus.Client
	relay         *relay.Service
	sessions      *session.Manager
	ready         atomic.Bool
	wg            sync.WaitGroup
	listenAddress string
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := r.setup(ctx); err != nil {
		r.teardown(context.Background())
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		r.teardown(context.Background())
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	r.listenAddress = ln.Addr().String()
	r.httpServer = &http.Server{
		Handler:           r.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", r.listenAddress))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	r.teardown(shutdownCtx)
	return nil
}

// setup builds every component without serving HTTP.
func (r *Runtime) setup(ctx context.Context) error {
	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	r.metrics = metricsHandler

	generator, err := NewScriptGenerator(r.cfg.LLM)
	if err != nil {
		return err
	}
	synth, err := NewSynthesizer(r.cfg.TTS)
	if err != nil {
		return err
	}
	decoder, err := NewDecoder(r.cfg.Playback)
	if err != nil {
		return err
	}
	settings, err := SessionSettings(r.cfg)
	if err != nil {
		return err
	}

	r.store, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("event store: %w", err)
	}
	sinks := []session.Sink{r.store}

	if r.cfg.Bus.Enabled {
		r.embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("embedded nats: %w", err)
		}
		busCfg := r.cfg.Bus
		if r.embedded != nil {
			busCfg.Servers = []string{r.embedded.ClientURL()}
		}
		r.busClient, err = bus.Connect(ctx, busCfg, r.logger)
		if err != nil {
			return fmt.Errorf("bus: %w", err)
		}
		sinks = append(sinks, relay.NewPublisher(r.busClient))
	}

	r.sessions = session.NewManager(generator, synth, decoder, settings, r.logger, sinks...)

	if r.busClient != nil {
		r.relay = relay.NewService(context.WithoutCancel(ctx), r.busClient, r.sessions, r.logger)
		if err := r.relay.Start(); err != nil {
			return fmt.Errorf("relay: %w", err)
		}
	}

	r.handler = r.routes()
	return nil
}

func (r *Runtime) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", r.handleHealth)
	mux.HandleFunc("GET /readyz", r.handleReady)
	if r.metrics != nil && r.cfg.Telemetry.MetricsPath != "" {
		mux.Handle("GET "+r.cfg.Telemetry.MetricsPath, r.metrics)
	}
	return api.New(r.sessions, r.logger).Wrap(mux)
}

func (r *Runtime) teardown(ctx context.Context) {
	if r.relay != nil {
		r.relay.Close()
	}
	if r.sessions != nil {
		r.sessions.Close()
	}
	if r.busClient != nil {
		r.busClient.Close()
	}
	if r.embedded != nil {
		r.embedded.Shutdown()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
	if r.tracerClose != nil {
		if err := r.tracerClose(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busReady() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) busReady() bool {
	if r.busClient == nil {
		return true
	}
	return r.busClient.Healthy() && (r.relay == nil || r.relay.Healthy())
}
