package auditlog

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "audittrail.v1.IntegrityService"

// HealthService is the name reported to the gRPC health service.
const HealthService = "audittrail.integrity"

const (
	MethodAppendEntry        = "AppendEntry"
	MethodUpdateEntry        = "UpdateEntry"
	MethodDeleteEntry        = "DeleteEntry"
	MethodVerify             = "Verify"
	MethodGetStatus          = "GetStatus"
	MethodListAlerts         = "ListAlerts"
	MethodAcknowledgeAlert   = "AcknowledgeAlert"
	MethodClearAlert         = "ClearAlert"
	MethodListRuns           = "ListRuns"
	MethodRotateSecret       = "RotateSecret"
	MethodListSecretVersions = "ListSecretVersions"
)

// FullMethod returns the gRPC path of method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// IntegrityServer is the server API for the integrity service.
type IntegrityServer interface {
	AppendEntry(context.Context, *AppendEntryRequest) (*AppendEntryResponse, error)
	UpdateEntry(context.Context, *UpdateEntryRequest) (*Empty, error)
	DeleteEntry(context.Context, *DeleteEntryRequest) (*Empty, error)
	Verify(context.Context, *VerifyRequest) (*VerifyResponse, error)
	GetStatus(context.Context, *GetStatusRequest) (*GetStatusResponse, error)
	ListAlerts(context.Context, *ListAlertsRequest) (*ListAlertsResponse, error)
	AcknowledgeAlert(context.Context, *AlertActionRequest) (*AlertActionResponse, error)
	ClearAlert(context.Context, *AlertActionRequest) (*AlertActionResponse, error)
	ListRuns(context.Context, *ListRunsRequest) (*ListRunsResponse, error)
	RotateSecret(context.Context, *RotateSecretRequest) (*RotateSecretResponse, error)
	ListSecretVersions(context.Context, *ListSecretVersionsRequest) (*ListSecretVersionsResponse, error)
}

// ServiceDesc describes the integrity service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IntegrityServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(MethodAppendEntry, IntegrityServer.AppendEntry),
		unaryMethod(MethodUpdateEntry, IntegrityServer.UpdateEntry),
		unaryMethod(MethodDeleteEntry, IntegrityServer.DeleteEntry),
		unaryMethod(MethodVerify, IntegrityServer.Verify),
		unaryMethod(MethodGetStatus, IntegrityServer.GetStatus),
		unaryMethod(MethodListAlerts, IntegrityServer.ListAlerts),
		unaryMethod(MethodAcknowledgeAlert, IntegrityServer.AcknowledgeAlert),
		unaryMethod(MethodClearAlert, IntegrityServer.ClearAlert),
		unaryMethod(MethodListRuns, IntegrityServer.ListRuns),
		unaryMethod(MethodRotateSecret, IntegrityServer.RotateSecret),
		unaryMethod(MethodListSecretVersions, IntegrityServer.ListSecretVersions),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "audittrail/v1/integrity.proto",
}

// RegisterIntegrityServer registers srv with registrar.
func RegisterIntegrityServer(registrar grpc.ServiceRegistrar, srv IntegrityServer) {
	registrar.RegisterService(&ServiceDesc, srv)
}

func unaryMethod[Req, Resp any](name string, call func(IntegrityServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			req := new(Req)
			if err := decodeMessage(in, req); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "decode %s request: %v", name, err)
			}
			handler := func(ctx context.Context, req any) (any, error) {
				resp, err := call(srv.(IntegrityServer), ctx, req.(*Req))
				if err != nil {
					return nil, err
				}
				out, err := encodeMessage(resp)
				if err != nil {
					return nil, status.Errorf(codes.Internal, "encode %s response: %v", name, err)
				}
				return out, nil
			}
			if interceptor == nil {
				return handler(ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, req, info, handler)
		},
	}
}
