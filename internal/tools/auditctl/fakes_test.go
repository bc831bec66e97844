package auditctl

import (
	"context"

	"github.com/louisbranch/audittrail/internal/services/audittrail/api/grpc/auditlog"
)

// fakeAPI returns canned responses and records the requests it saw.
type fakeAPI struct {
	verifyResp   *auditlog.VerifyResponse
	statusResp   *auditlog.GetStatusResponse
	alertsResp   *auditlog.ListAlertsResponse
	runsResp     *auditlog.ListRunsResponse
	versionsResp *auditlog.ListSecretVersionsResponse
	err          error

	verifyReq *auditlog.VerifyRequest
	alertsReq *auditlog.ListAlertsRequest
	actionReq *auditlog.AlertActionRequest
	action    string
	rotateReq *auditlog.RotateSecretRequest
	runsReq   *auditlog.ListRunsRequest
}

func (f *fakeAPI) Verify(_ context.Context, in *auditlog.VerifyRequest) (*auditlog.VerifyResponse, error) {
	f.verifyReq = in
	if f.err != nil {
		return nil, f.err
	}
	return f.verifyResp, nil
}

func (f *fakeAPI) GetStatus(context.Context, *auditlog.GetStatusRequest) (*auditlog.GetStatusResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.statusResp, nil
}

func (f *fakeAPI) ListAlerts(_ context.Context, in *auditlog.ListAlertsRequest) (*auditlog.ListAlertsResponse, error) {
	f.alertsReq = in
	if f.err != nil {
		return nil, f.err
	}
	return f.alertsResp, nil
}

func (f *fakeAPI) AcknowledgeAlert(_ context.Context, in *auditlog.AlertActionRequest) (*auditlog.AlertActionResponse, error) {
	f.actionReq = in
	f.action = "ack"
	if f.err != nil {
		return nil, f.err
	}
	return &auditlog.AlertActionResponse{Alert: auditlog.Alert{RunID: in.RunID, Acknowledged: true, AcknowledgedBy: "ops", Note: in.Note}}, nil
}

func (f *fakeAPI) ClearAlert(_ context.Context, in *auditlog.AlertActionRequest) (*auditlog.AlertActionResponse, error) {
	f.actionReq = in
	f.action = "clear"
	if f.err != nil {
		return nil, f.err
	}
	return &auditlog.AlertActionResponse{Alert: auditlog.Alert{RunID: in.RunID, Cleared: true, AcknowledgedBy: "ops", Note: in.Note}}, nil
}

func (f *fakeAPI) ListRuns(_ context.Context, in *auditlog.ListRunsRequest) (*auditlog.ListRunsResponse, error) {
	f.runsReq = in
	if f.err != nil {
		return nil, f.err
	}
	return f.runsResp, nil
}

func (f *fakeAPI) RotateSecret(_ context.Context, in *auditlog.RotateSecretRequest) (*auditlog.RotateSecretResponse, error) {
	f.rotateReq = in
	if f.err != nil {
		return nil, f.err
	}
	return &auditlog.RotateSecretResponse{Secret: auditlog.SecretVersion{Version: in.Version, CreatedBy: "ops", Current: true}}, nil
}

func (f *fakeAPI) ListSecretVersions(context.Context, *auditlog.ListSecretVersionsRequest) (*auditlog.ListSecretVersionsResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.versionsResp, nil
}
