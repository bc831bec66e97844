// Package auditctl implements the operator CLI for the audit trail: it runs
// verifications, reads integrity status and alerts, lists runs and rotates
// key versions, either against local databases or a running service.
package auditctl

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/audittrail/internal/platform/cmd"
	"github.com/louisbranch/audittrail/internal/services/audittrail/api/grpc/auditlog"
	"github.com/louisbranch/audittrail/internal/services/audittrail/storage"
)

// Commands understood by Run.
const (
	CommandVerify   = "verify"
	CommandStatus   = "status"
	CommandAlerts   = "alerts"
	CommandAck      = "ack"
	CommandClear    = "clear"
	CommandRuns     = "runs"
	CommandRotate   = "rotate-secret"
	CommandVersions = "secret-versions"
)

// ErrBroken is returned when a verification or status read finds a chain
// break. Callers map it to a distinct exit code.
var ErrBroken = errors.New("audit chain is broken")

// Config holds auditctl configuration.
type Config struct {
	Command       string
	EventsDBPath  string        `env:"AUDITTRAIL_EVENTS_DB_PATH" envDefault:"data/audittrail-events.db"`
	SecretsDBPath string        `env:"AUDITTRAIL_SECRETS_DB_PATH" envDefault:"data/audittrail-secrets.db"`
	Timeout       time.Duration `env:"AUDITTRAIL_MAINTENANCE_TIMEOUT" envDefault:"10m"`
	Addr          string        `env:"AUDITTRAIL_CTL_ADDR"`
	Token         string        `env:"AUDITTRAIL_INVOKE_TOKEN"`
	DialTimeout   time.Duration `env:"AUDITTRAIL_CTL_DIAL_TIMEOUT" envDefault:"5s"`

	Scope    string
	ActorID  string
	Trigger  string
	RunID    string
	Note     string
	Version  string
	Material string `env:"AUDITTRAIL_ROTATE_KEY"`
	Since    string
	Until    string
	Limit    int
	JSON     bool
}

// ParseConfig parses env and flags into a Config. The first argument names
// the command when it is not a flag.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cfg.Command = args[0]
		args = args[1:]
	}

	fs.StringVar(&cfg.EventsDBPath, "events-db-path", cfg.EventsDBPath, "path to events SQLite database")
	fs.StringVar(&cfg.SecretsDBPath, "secrets-db-path", cfg.SecretsDBPath, "path to secrets SQLite database")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "audittrail server address; empty works on local databases")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "bearer credential for -addr")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "timeout waiting for the server to become healthy")
	fs.StringVar(&cfg.Scope, "scope", string(storage.ScopeFull), "verification scope: full, incremental or actor")
	fs.StringVar(&cfg.ActorID, "actor", "", "actor id for actor or incremental verification")
	fs.StringVar(&cfg.Trigger, "trigger", "", "source trigger recorded with the run")
	fs.StringVar(&cfg.RunID, "run", "", "run id for ack or clear")
	fs.StringVar(&cfg.Note, "note", "", "note recorded with ack or clear")
	fs.StringVar(&cfg.Version, "version", "", "new secret version id")
	fs.StringVar(&cfg.Material, "material", cfg.Material, "new secret material")
	fs.StringVar(&cfg.Since, "since", "", "RFC3339 lower bound for alerts")
	fs.StringVar(&cfg.Until, "until", "", "RFC3339 upper bound for alerts")
	fs.IntVar(&cfg.Limit, "limit", 0, "maximum rows for alerts or runs")
	fs.BoolVar(&cfg.JSON, "json", false, "output JSON")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if cfg.Command == "" && fs.NArg() > 0 {
		cfg.Command = fs.Arg(0)
	}
	return cfg, nil
}

// Run executes the configured command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	if err := validate(cfg); err != nil {
		return err
	}

	api, closeAPI, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeAPI(); err != nil {
			fmt.Fprintf(errOut, "Error: close: %v\n", err)
		}
	}()
	return runWithAPI(ctx, cfg, api, out)
}

func validate(cfg Config) error {
	switch strings.TrimSpace(cfg.Command) {
	case "":
		return errors.New("a command is required: verify, status, alerts, ack, clear, runs, rotate-secret or secret-versions")
	case CommandVerify:
		scope := storage.Scope(strings.TrimSpace(cfg.Scope))
		if !scope.Valid() {
			return fmt.Errorf("-scope must be full, incremental or actor")
		}
		if scope == storage.ScopeActor && strings.TrimSpace(cfg.ActorID) == "" {
			return errors.New("-scope actor requires -actor")
		}
		if scope == storage.ScopeFull && strings.TrimSpace(cfg.ActorID) != "" {
			return errors.New("-actor cannot be combined with -scope full")
		}
	case CommandAck, CommandClear:
		if strings.TrimSpace(cfg.RunID) == "" {
			return fmt.Errorf("%s requires -run", cfg.Command)
		}
	case CommandRotate:
		if strings.TrimSpace(cfg.Version) == "" {
			return errors.New("rotate-secret requires -version")
		}
		if strings.TrimSpace(cfg.Material) == "" {
			return errors.New("rotate-secret requires -material or AUDITTRAIL_ROTATE_KEY")
		}
	case CommandAlerts:
		if _, err := parseTime(cfg.Since); err != nil {
			return fmt.Errorf("-since: %w", err)
		}
		if _, err := parseTime(cfg.Until); err != nil {
			return fmt.Errorf("-until: %w", err)
		}
	case CommandStatus, CommandRuns, CommandVersions:
	default:
		return fmt.Errorf("unknown command %q", cfg.Command)
	}
	if cfg.Limit < 0 {
		return errors.New("-limit must be non-negative")
	}
	if strings.TrimSpace(cfg.Addr) == "" && strings.TrimSpace(cfg.Token) != "" {
		return errors.New("-token requires -addr")
	}
	return nil
}

func runWithAPI(ctx context.Context, cfg Config, api integrityAPI, out io.Writer) error {
	switch strings.TrimSpace(cfg.Command) {
	case CommandVerify:
		resp, err := api.Verify(ctx, &auditlog.VerifyRequest{
			Scope:   strings.TrimSpace(cfg.Scope),
			ActorID: strings.TrimSpace(cfg.ActorID),
			Trigger: cfg.Trigger,
		})
		if err != nil {
			return err
		}
		if err := printRuns(out, cfg.JSON, resp.Runs); err != nil {
			return err
		}
		for _, run := range resp.Runs {
			if run.Status == string(storage.RunBroken) {
				return fmt.Errorf("%w: run %s", ErrBroken, run.ID)
			}
		}
		if resp.Error != "" {
			return fmt.Errorf("verify: %s", resp.Error)
		}
		return nil
	case CommandStatus:
		resp, err := api.GetStatus(ctx, &auditlog.GetStatusRequest{})
		if err != nil {
			return err
		}
		if err := printStatus(out, cfg.JSON, resp); err != nil {
			return err
		}
		if len(resp.BrokenLinks) > 0 {
			return fmt.Errorf("%w: %d broken link(s)", ErrBroken, len(resp.BrokenLinks))
		}
		return nil
	case CommandAlerts:
		since, _ := parseTime(cfg.Since)
		until, _ := parseTime(cfg.Until)
		resp, err := api.ListAlerts(ctx, &auditlog.ListAlertsRequest{Since: since, Until: until, Limit: cfg.Limit})
		if err != nil {
			return err
		}
		return printAlerts(out, cfg.JSON, resp.Alerts)
	case CommandAck:
		resp, err := api.AcknowledgeAlert(ctx, &auditlog.AlertActionRequest{RunID: strings.TrimSpace(cfg.RunID), Note: cfg.Note})
		if err != nil {
			return err
		}
		return printAlerts(out, cfg.JSON, []auditlog.Alert{resp.Alert})
	case CommandClear:
		resp, err := api.ClearAlert(ctx, &auditlog.AlertActionRequest{RunID: strings.TrimSpace(cfg.RunID), Note: cfg.Note})
		if err != nil {
			return err
		}
		return printAlerts(out, cfg.JSON, []auditlog.Alert{resp.Alert})
	case CommandRuns:
		resp, err := api.ListRuns(ctx, &auditlog.ListRunsRequest{Limit: cfg.Limit})
		if err != nil {
			return err
		}
		return printRuns(out, cfg.JSON, resp.Runs)
	case CommandRotate:
		resp, err := api.RotateSecret(ctx, &auditlog.RotateSecretRequest{
			Version:  strings.TrimSpace(cfg.Version),
			Material: encodeMaterial(strings.TrimSpace(cfg.Material)),
		})
		if err != nil {
			return err
		}
		return printVersions(out, cfg.JSON, []auditlog.SecretVersion{resp.Secret})
	case CommandVersions:
		resp, err := api.ListSecretVersions(ctx, &auditlog.ListSecretVersionsRequest{})
		if err != nil {
			return err
		}
		return printVersions(out, cfg.JSON, resp.Versions)
	default:
		return fmt.Errorf("unknown command %q", cfg.Command)
	}
}

func parseTime(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}
	parsed = parsed.UTC()
	return &parsed, nil
}
