package auditctl

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strings"

	grpcmeta "github.com/louisbranch/audittrail/internal/api/grpc/metadata"
	platformgrpc "github.com/louisbranch/audittrail/internal/platform/grpc"
	"github.com/louisbranch/audittrail/internal/services/audittrail/api/grpc/auditlog"
	"github.com/louisbranch/audittrail/internal/services/audittrail/app"
	"github.com/louisbranch/audittrail/internal/services/audittrail/authz"
	"github.com/louisbranch/audittrail/internal/services/audittrail/integrity"
)

// localSubject names the operator principal for local database access.
const localSubject = "auditctl"

// integrityAPI is the part of the integrity service the CLI drives.
type integrityAPI interface {
	Verify(ctx context.Context, in *auditlog.VerifyRequest) (*auditlog.VerifyResponse, error)
	GetStatus(ctx context.Context, in *auditlog.GetStatusRequest) (*auditlog.GetStatusResponse, error)
	ListAlerts(ctx context.Context, in *auditlog.ListAlertsRequest) (*auditlog.ListAlertsResponse, error)
	AcknowledgeAlert(ctx context.Context, in *auditlog.AlertActionRequest) (*auditlog.AlertActionResponse, error)
	ClearAlert(ctx context.Context, in *auditlog.AlertActionRequest) (*auditlog.AlertActionResponse, error)
	ListRuns(ctx context.Context, in *auditlog.ListRunsRequest) (*auditlog.ListRunsResponse, error)
	RotateSecret(ctx context.Context, in *auditlog.RotateSecretRequest) (*auditlog.RotateSecretResponse, error)
	ListSecretVersions(ctx context.Context, in *auditlog.ListSecretVersionsRequest) (*auditlog.ListSecretVersionsResponse, error)
}

// open returns the API for cfg: a remote client when -addr is set, the
// in-process service over local databases otherwise.
func open(ctx context.Context, cfg Config) (integrityAPI, func() error, error) {
	if strings.TrimSpace(cfg.Addr) != "" {
		return openRemote(ctx, cfg)
	}
	return openLocal(ctx, cfg)
}

// openLocal serves calls from the databases directly. Whoever can read the
// files already holds every permission, so calls run as a trusted admin.
func openLocal(ctx context.Context, cfg Config) (integrityAPI, func() error, error) {
	stores, err := app.OpenStores(ctx, cfg.EventsDBPath, cfg.SecretsDBPath)
	if err != nil {
		return nil, nil, err
	}
	configured, err := integrity.SecretsFromEnv()
	if err != nil {
		stores.Close()
		return nil, nil, err
	}
	if err := stores.Registry.Bootstrap(ctx, configured); err != nil {
		stores.Close()
		return nil, nil, fmt.Errorf("bootstrap secrets: %w", err)
	}
	engine, err := app.NewEngine(stores, 0, 0)
	if err != nil {
		stores.Close()
		return nil, nil, err
	}
	service, err := app.NewService(stores, engine, authz.NewTrusted(localSubject, authz.PermAdmin), 0)
	if err != nil {
		stores.Close()
		return nil, nil, err
	}
	return service, func() error {
		stores.Close()
		return nil
	}, nil
}

func openRemote(ctx context.Context, cfg Config) (integrityAPI, func() error, error) {
	conn, err := platformgrpc.DialWithHealth(ctx, strings.TrimSpace(cfg.Addr), auditlog.HealthService, cfg.DialTimeout, log.Printf)
	if err != nil {
		return nil, nil, err
	}
	return &remoteAPI{client: auditlog.NewClient(conn), token: cfg.Token}, conn.Close, nil
}

// remoteAPI attaches the bearer credential to every call.
type remoteAPI struct {
	client *auditlog.Client
	token  string
}

func (r *remoteAPI) ctx(ctx context.Context) context.Context {
	return grpcmeta.WithCredential(ctx, r.token)
}

func (r *remoteAPI) Verify(ctx context.Context, in *auditlog.VerifyRequest) (*auditlog.VerifyResponse, error) {
	return r.client.Verify(r.ctx(ctx), in)
}

func (r *remoteAPI) GetStatus(ctx context.Context, in *auditlog.GetStatusRequest) (*auditlog.GetStatusResponse, error) {
	return r.client.GetStatus(r.ctx(ctx), in)
}

func (r *remoteAPI) ListAlerts(ctx context.Context, in *auditlog.ListAlertsRequest) (*auditlog.ListAlertsResponse, error) {
	return r.client.ListAlerts(r.ctx(ctx), in)
}

func (r *remoteAPI) AcknowledgeAlert(ctx context.Context, in *auditlog.AlertActionRequest) (*auditlog.AlertActionResponse, error) {
	return r.client.AcknowledgeAlert(r.ctx(ctx), in)
}

func (r *remoteAPI) ClearAlert(ctx context.Context, in *auditlog.AlertActionRequest) (*auditlog.AlertActionResponse, error) {
	return r.client.ClearAlert(r.ctx(ctx), in)
}

func (r *remoteAPI) ListRuns(ctx context.Context, in *auditlog.ListRunsRequest) (*auditlog.ListRunsResponse, error) {
	return r.client.ListRuns(r.ctx(ctx), in)
}

func (r *remoteAPI) RotateSecret(ctx context.Context, in *auditlog.RotateSecretRequest) (*auditlog.RotateSecretResponse, error) {
	return r.client.RotateSecret(r.ctx(ctx), in)
}

func (r *remoteAPI) ListSecretVersions(ctx context.Context, in *auditlog.ListSecretVersionsRequest) (*auditlog.ListSecretVersionsResponse, error) {
	return r.client.ListSecretVersions(r.ctx(ctx), in)
}

// encodeMaterial carries raw material the way AUDITTRAIL_HMAC_KEY does: the
// configured string itself is the key.
func encodeMaterial(material string) string {
	return base64.StdEncoding.EncodeToString([]byte(material))
}
