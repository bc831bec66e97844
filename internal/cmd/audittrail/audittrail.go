// Package audittrail parses audit trail service flags and starts the runtime.
package audittrail

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/louisbranch/audittrail/internal/platform/cmd"
	server "github.com/louisbranch/audittrail/internal/services/audittrail/app"
)

// Config holds audit trail command configuration.
type Config struct {
	Port              int           `env:"AUDITTRAIL_PORT" envDefault:"8095"`
	Addr              string        `env:"AUDITTRAIL_ADDR"`
	EventsDBPath      string        `env:"AUDITTRAIL_EVENTS_DB_PATH" envDefault:"data/audittrail-events.db"`
	SecretsDBPath     string        `env:"AUDITTRAIL_SECRETS_DB_PATH" envDefault:"data/audittrail-secrets.db"`
	SweepInterval     time.Duration `env:"AUDITTRAIL_SWEEP_INTERVAL" envDefault:"1m"`
	ReconcileInterval time.Duration `env:"AUDITTRAIL_RECONCILE_INTERVAL" envDefault:"24h"`
	VerifyConcurrency int           `env:"AUDITTRAIL_VERIFY_CONCURRENCY" envDefault:"4"`
	MaxConnections    int           `env:"AUDITTRAIL_MAX_CONNECTIONS"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The audit trail server port")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The audit trail server listen address (overrides -port)")
	fs.StringVar(&cfg.EventsDBPath, "events-db-path", cfg.EventsDBPath, "Path to the events SQLite database")
	fs.StringVar(&cfg.SecretsDBPath, "secrets-db-path", cfg.SecretsDBPath, "Path to the secrets SQLite database")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "Incremental verification interval (0 disables)")
	fs.DurationVar(&cfg.ReconcileInterval, "reconcile-interval", cfg.ReconcileInterval, "Full verification interval (0 disables)")
	fs.IntVar(&cfg.VerifyConcurrency, "verify-concurrency", cfg.VerifyConcurrency, "Parallel actor verifications per sweep")
	fs.IntVar(&cfg.MaxConnections, "max-connections", cfg.MaxConnections, "Concurrent client connection cap (0 means no cap)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RuntimeConfig maps command configuration onto the service runtime.
func (c Config) RuntimeConfig() server.RuntimeConfig {
	return server.RuntimeConfig{
		Port:              c.Port,
		Addr:              c.Addr,
		EventsDBPath:      c.EventsDBPath,
		SecretsDBPath:     c.SecretsDBPath,
		MaxConnections:    c.MaxConnections,
		VerifyConcurrency: c.VerifyConcurrency,
		Sweep: server.SweepConfig{
			Interval:          c.SweepInterval,
			ReconcileInterval: c.ReconcileInterval,
		},
	}
}

// Run starts the audit trail service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceAuditTrail, func(ctx context.Context) error {
		return server.Run(ctx, cfg.RuntimeConfig())
	})
}
