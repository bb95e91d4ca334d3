// Package app wires the availability runtime: stores, engine, scheduler, and
// the HTTP and gRPC lifecycles.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/libresocial/engine/internal/availability/api"
	"github.com/libresocial/engine/internal/availability/scheduler"
	"github.com/libresocial/engine/internal/availability/service"
	"github.com/libresocial/engine/internal/availability/storage/bbolt"
	"github.com/libresocial/engine/internal/availability/storage/retry"
	"github.com/libresocial/engine/internal/notify"
	notifysqlite "github.com/libresocial/engine/internal/notify/storage/sqlite"
)

const healthServiceName = "libresocial.availability.v1"

// Config carries everything the runtime needs to start.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	DBPath      string
	InboxDBPath string
	TokenSecret string
	TokenIssuer string

	SweepInterval       time.Duration
	InvitationTTL       time.Duration
	SessionTTL          time.Duration
	MaxRecipients       int
	RateLimitRequests   int
	RateLimitWindow     time.Duration
	ShutdownGracePeriod time.Duration
}

// lazyTimers breaks the construction cycle between service and scheduler:
// the service needs an armer before the scheduler exists, and the scheduler
// needs the service as its engine.
type lazyTimers struct {
	scheduler *scheduler.Scheduler
}

func (t *lazyTimers) ArmInvitation(id string, expiresAt time.Time) {
	if t.scheduler != nil {
		t.scheduler.ArmInvitation(id, expiresAt)
	}
}

func (t *lazyTimers) ArmSession(id string, expiresAt time.Time) {
	if t.scheduler != nil {
		t.scheduler.ArmSession(id, expiresAt)
	}
}

// Server hosts the availability HTTP API, the gRPC health endpoint, and the
// expiry scheduler over the shared stores.
type Server struct {
	httpListener net.Listener
	grpcListener net.Listener
	httpServer   *http.Server
	grpcServer   *grpc.Server
	health       *health.Server
	scheduler    *scheduler.Scheduler
	store        *bbolt.Store
	inboxStore   *notifysqlite.Store
	grace        time.Duration
}

// New opens the stores, wires the engine, and binds the listeners. The
// returned server is not serving yet; call Serve.
func New(cfg Config) (*Server, error) {
	if cfg.HTTPAddr == "" {
		return nil, errors.New("http listen address is required")
	}
	if cfg.TokenSecret == "" {
		return nil, errors.New("token secret is required")
	}

	store, err := bbolt.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open availability store: %w", err)
	}

	inboxStore, err := notifysqlite.Open(cfg.InboxDBPath)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open inbox store: %w", err)
	}
	inbox, err := notify.NewInbox(notify.InboxOptions{Store: inboxStore})
	if err != nil {
		_ = store.Close()
		_ = inboxStore.Close()
		return nil, err
	}

	timers := &lazyTimers{}
	engine, err := service.New(service.Options{
		Store:         retry.Wrap(store, retry.Options{}),
		Notifier:      inbox,
		Timers:        timers,
		MaxRecipients: cfg.MaxRecipients,
		InvitationTTL: cfg.InvitationTTL,
		SessionTTL:    cfg.SessionTTL,
	})
	if err != nil {
		_ = store.Close()
		_ = inboxStore.Close()
		return nil, err
	}

	sched, err := scheduler.New(scheduler.Options{
		Engine:        engine,
		SweepInterval: cfg.SweepInterval,
	})
	if err != nil {
		_ = store.Close()
		_ = inboxStore.Close()
		return nil, err
	}
	timers.scheduler = sched

	verifier, err := api.NewTokenVerifier([]byte(cfg.TokenSecret), cfg.TokenIssuer)
	if err != nil {
		_ = store.Close()
		_ = inboxStore.Close()
		return nil, err
	}

	router := api.NewRouter(api.RouterOptions{
		Engine:   engine,
		Inbox:    inbox,
		Verifier: verifier,
		RateLimit: api.RateLimit{
			Requests: cfg.RateLimitRequests,
			Window:   cfg.RateLimitWindow,
		},
	})

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = store.Close()
		_ = inboxStore.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}

	server := &Server{
		httpListener: httpListener,
		httpServer:   &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second},
		scheduler:    sched,
		store:        store,
		inboxStore:   inboxStore,
		grace:        cfg.ShutdownGracePeriod,
	}
	if server.grace <= 0 {
		server.grace = 10 * time.Second
	}

	if cfg.GRPCAddr != "" {
		grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			_ = httpListener.Close()
			_ = store.Close()
			_ = inboxStore.Close()
			return nil, fmt.Errorf("listen on %s: %w", cfg.GRPCAddr, err)
		}
		grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
		healthServer := health.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
		healthServer.SetServingStatus(healthServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
		server.grpcListener = grpcListener
		server.grpcServer = grpcServer
		server.health = healthServer
	}

	return server, nil
}

// HTTPAddr returns the bound HTTP listener address.
func (s *Server) HTTPAddr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// GRPCAddr returns the bound gRPC listener address, if any.
func (s *Server) GRPCAddr() string {
	if s == nil || s.grpcListener == nil {
		return ""
	}
	return s.grpcListener.Addr().String()
}

// Run creates and serves an availability server until context cancellation.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the scheduler and the listeners until context cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	s.scheduler.Start(ctx)
	defer s.scheduler.Stop()

	serveErr := make(chan error, 2)
	log.Printf("availability http server listening at %v", s.httpListener.Addr())
	go func() {
		serveErr <- s.httpServer.Serve(s.httpListener)
	}()
	if s.grpcServer != nil {
		log.Printf("availability grpc server listening at %v", s.grpcListener.Addr())
		go func() {
			serveErr <- s.grpcServer.Serve(s.grpcListener)
		}()
	}

	select {
	case <-ctx.Done():
		return s.shutdown(serveErr)
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	}
}

func (s *Server) shutdown(serveErr <-chan error) error {
	if s.health != nil {
		s.health.Shutdown()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.grace)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown err=%v", err)
	}
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}

	drained := 1
	if s.grpcServer != nil {
		drained = 2
	}
	for i := 0; i < drained; i++ {
		if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
	}
	return nil
}

// Close releases the listeners and stores. Safe to call more than once.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close availability store err=%v", err)
		}
		s.store = nil
	}
	if s.inboxStore != nil {
		if err := s.inboxStore.Close(); err != nil {
			log.Printf("close inbox store err=%v", err)
		}
		s.inboxStore = nil
	}
}
