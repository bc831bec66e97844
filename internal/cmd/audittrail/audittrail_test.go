package audittrail

import (
	"flag"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"AUDITTRAIL_PORT",
		"AUDITTRAIL_ADDR",
		"AUDITTRAIL_EVENTS_DB_PATH",
		"AUDITTRAIL_SECRETS_DB_PATH",
		"AUDITTRAIL_SWEEP_INTERVAL",
		"AUDITTRAIL_RECONCILE_INTERVAL",
		"AUDITTRAIL_VERIFY_CONCURRENCY",
		"AUDITTRAIL_MAX_CONNECTIONS",
	} {
		t.Setenv(key, "")
	}
}

func TestParseConfigDefaults(t *testing.T) {
	clearEnv(t)
	fs := flag.NewFlagSet("audittrail", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 8095 {
		t.Fatalf("expected default port 8095, got %d", cfg.Port)
	}
	if cfg.Addr != "" {
		t.Fatalf("expected empty addr, got %q", cfg.Addr)
	}
	if cfg.SweepInterval != time.Minute || cfg.ReconcileInterval != 24*time.Hour {
		t.Fatalf("unexpected intervals %v %v", cfg.SweepInterval, cfg.ReconcileInterval)
	}
	if cfg.VerifyConcurrency != 4 || cfg.MaxConnections != 0 {
		t.Fatalf("unexpected limits %+v", cfg)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUDITTRAIL_SWEEP_INTERVAL", "30s")
	fs := flag.NewFlagSet("audittrail", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-port", "9001", "-addr", "127.0.0.1:9999", "-reconcile-interval", "0", "-max-connections", "16"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 9001 {
		t.Fatalf("expected port 9001, got %d", cfg.Port)
	}
	if cfg.Addr != "127.0.0.1:9999" {
		t.Fatalf("expected addr override, got %q", cfg.Addr)
	}
	if cfg.SweepInterval != 30*time.Second {
		t.Fatalf("expected env sweep interval, got %v", cfg.SweepInterval)
	}

	rt := cfg.RuntimeConfig()
	if rt.Sweep.ReconcileInterval != 0 || rt.Sweep.Interval != 30*time.Second {
		t.Fatalf("unexpected sweep config %+v", rt.Sweep)
	}
	if rt.MaxConnections != 16 || rt.Addr != "127.0.0.1:9999" {
		t.Fatalf("unexpected runtime config %+v", rt)
	}
}
