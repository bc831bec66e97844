// Package app wires the audit trail stores, verification engine, status
// surface and gRPC transport into a running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/net/netutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/louisbranch/audittrail/internal/api/grpc/interceptors"
	grpcmeta "github.com/louisbranch/audittrail/internal/api/grpc/metadata"
	"github.com/louisbranch/audittrail/internal/services/audittrail/api/grpc/auditlog"
	"github.com/louisbranch/audittrail/internal/services/audittrail/authz"
	"github.com/louisbranch/audittrail/internal/services/audittrail/chain"
	"github.com/louisbranch/audittrail/internal/services/audittrail/integrity"
	"github.com/louisbranch/audittrail/internal/services/audittrail/status"
	"github.com/louisbranch/audittrail/internal/services/audittrail/storage/sqlite"
	"github.com/louisbranch/audittrail/internal/services/audittrail/verify"
)

const (
	defaultPort          = 8095
	defaultEventsDBPath  = "data/audittrail-events.db"
	defaultSecretsDBPath = "data/audittrail-secrets.db"

	sweeperSubject = "sweeper"
)

// RuntimeConfig controls service startup and sweep behavior.
type RuntimeConfig struct {
	Port          int
	Addr          string
	EventsDBPath  string
	SecretsDBPath string
	// MaxConnections caps concurrent client connections; zero means no cap.
	MaxConnections    int
	VerifyPageSize    int
	VerifyConcurrency int
	HealthWindow      int
	Sweep             SweepConfig
	// Authorizer checks remote credentials. Nil loads the EdDSA verifier
	// from AUDITTRAIL_INVOKE_* env.
	Authorizer authz.Authorizer
}

func (c RuntimeConfig) normalized() RuntimeConfig {
	if c.Port <= 0 {
		c.Port = defaultPort
	}
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = fmt.Sprintf(":%d", c.Port)
	}
	if strings.TrimSpace(c.EventsDBPath) == "" {
		c.EventsDBPath = defaultEventsDBPath
	}
	if strings.TrimSpace(c.SecretsDBPath) == "" {
		c.SecretsDBPath = defaultSecretsDBPath
	}
	return c
}

// Runtime is a configured audit trail service.
type Runtime struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	sweeper    *Sweeper
	stores     *Stores
}

// New opens stores, loads secrets and builds the gRPC server.
func New(ctx context.Context, cfg RuntimeConfig) (*Runtime, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.normalized()

	auth := cfg.Authorizer
	if auth == nil {
		authCfg, err := authz.LoadConfigFromEnv(nil)
		if err != nil {
			return nil, fmt.Errorf("load invocation auth config: %w", err)
		}
		verifier, err := authz.NewVerifier(authCfg)
		if err != nil {
			return nil, err
		}
		auth = verifier
	}

	stores, err := OpenStores(ctx, cfg.EventsDBPath, cfg.SecretsDBPath)
	if err != nil {
		return nil, err
	}
	configured, err := integrity.SecretsFromEnv()
	if err != nil {
		stores.Close()
		return nil, err
	}
	if err := stores.Registry.Bootstrap(ctx, configured); err != nil {
		stores.Close()
		return nil, fmt.Errorf("bootstrap secrets: %w", err)
	}
	if current, err := stores.Registry.CurrentVersion(); err != nil {
		log.Printf("no active secret version; appends will fail until one is rotated in")
	} else {
		log.Printf("secret registry ready: current version %s, %d known", current, len(stores.Registry.Versions()))
	}

	engine, err := NewEngine(stores, cfg.VerifyPageSize, cfg.VerifyConcurrency)
	if err != nil {
		stores.Close()
		return nil, err
	}
	service, err := NewService(stores, engine, auth, cfg.HealthWindow)
	if err != nil {
		stores.Close()
		return nil, err
	}
	sweepInvoker, err := verify.NewInvoker(engine, authz.NewTrusted(sweeperSubject, authz.PermVerify))
	if err != nil {
		stores.Close()
		return nil, err
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		stores.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}
	if cfg.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.MaxConnections)
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			grpcmeta.UnaryServerInterceptor(nil),
			interceptors.TelemetryInterceptor(),
		),
	)
	auditlog.RegisterIntegrityServer(grpcServer, service)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(auditlog.HealthService, grpc_health_v1.HealthCheckResponse_SERVING)

	return &Runtime{
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
		sweeper:    NewSweeper(sweepInvoker, cfg.Sweep),
		stores:     stores,
	}, nil
}

// NewEngine builds a verification engine over stores.
func NewEngine(stores *Stores, pageSize, concurrency int) (*verify.Engine, error) {
	var opts []verify.Option
	if pageSize > 0 {
		opts = append(opts, verify.WithPageSize(pageSize))
	}
	if concurrency > 0 {
		opts = append(opts, verify.WithConcurrency(concurrency))
	}
	return verify.New(stores.Events, stores.Events, stores.Events, stores.Registry, opts...)
}

// NewService wires the integrity service over stores and engine, with
// every call authorized by auth.
func NewService(stores *Stores, engine *verify.Engine, auth authz.Authorizer, healthWindow int) (*auditlog.Service, error) {
	builder, err := chain.NewBuilder(stores.Events, stores.Registry)
	if err != nil {
		return nil, err
	}
	invoker, err := verify.NewInvoker(engine, auth)
	if err != nil {
		return nil, err
	}
	var statusOpts []status.Option
	if healthWindow > 0 {
		statusOpts = append(statusOpts, status.WithHealthWindow(healthWindow))
	}
	surface, err := status.New(stores.Events, stores.Events, auth, statusOpts...)
	if err != nil {
		return nil, err
	}
	return auditlog.NewService(auditlog.Deps{
		Appender: builder,
		Entries:  stores.Events,
		Verifier: invoker,
		Status:   surface,
		Secrets:  stores.Registry,
		Runs:     stores.Events,
		Auth:     auth,
	})
}

// Addr returns the listener address.
func (r *Runtime) Addr() string {
	if r == nil || r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

// Run creates and serves a runtime until context cancellation.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	runtime, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return runtime.Serve(ctx)
}

// Serve runs the gRPC server and the sweeper until ctx ends.
func (r *Runtime) Serve(ctx context.Context) error {
	if r == nil {
		return errors.New("runtime is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer r.Close()

	log.Printf("audittrail server listening at %v", r.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- r.grpcServer.Serve(r.listener)
	}()
	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		_ = r.sweeper.Run(sweepCtx)
	}()
	defer func() {
		stopSweep()
		<-sweepDone
	}()

	select {
	case <-ctx.Done():
		r.health.Shutdown()
		r.grpcServer.GracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

// Close releases runtime resources.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	if r.health != nil {
		r.health.Shutdown()
	}
	if r.grpcServer != nil {
		r.grpcServer.Stop()
	}
	if r.listener != nil {
		_ = r.listener.Close()
	}
	if r.stores != nil {
		r.stores.Close()
	}
}

// Stores groups the SQLite stores and the secret registry loaded from them.
type Stores struct {
	Events   *sqlite.Store
	Secrets  *sqlite.SecretStore
	Registry *integrity.Registry
}

// OpenStores opens both databases and loads every stored secret version.
// Key material lives in its own file so it can be protected separately from
// the log it signs.
func OpenStores(ctx context.Context, eventsPath, secretsPath string) (*Stores, error) {
	for _, path := range []string{eventsPath, secretsPath} {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create storage dir: %w", err)
			}
		}
	}
	events, err := sqlite.OpenEvents(ctx, eventsPath)
	if err != nil {
		return nil, fmt.Errorf("open events store: %w", err)
	}
	secrets, err := sqlite.OpenSecrets(ctx, secretsPath)
	if err != nil {
		_ = events.Close()
		return nil, fmt.Errorf("open secrets store: %w", err)
	}
	registry, err := integrity.NewRegistry(ctx, secrets)
	if err != nil {
		_ = events.Close()
		_ = secrets.Close()
		return nil, err
	}
	return &Stores{Events: events, Secrets: secrets, Registry: registry}, nil
}

// Close closes both stores.
func (s *Stores) Close() {
	if s == nil {
		return
	}
	if s.Events != nil {
		if err := s.Events.Close(); err != nil {
			log.Printf("close events store: %v", err)
		}
	}
	if s.Secrets != nil {
		if err := s.Secrets.Close(); err != nil {
			log.Printf("close secrets store: %v", err)
		}
	}
}
