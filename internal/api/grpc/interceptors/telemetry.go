// Package interceptors holds unary interceptors shared by the gRPC server.
package interceptors

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	grpcmeta "github.com/louisbranch/audittrail/internal/api/grpc/metadata"
)

const instrumentationName = "github.com/louisbranch/audittrail/grpc"

// TelemetryInterceptor counts every call by method and status code and logs
// calls that did not succeed, tagged with the request id.
func TelemetryInterceptor() grpc.UnaryServerInterceptor {
	calls, err := otel.Meter(instrumentationName).Int64Counter("audittrail.grpc.calls",
		metric.WithDescription("Integrity service calls by method and code"))
	if err != nil {
		calls = noop.Int64Counter{}
	}
	return telemetryInterceptor(calls, time.Now)
}

func telemetryInterceptor(calls metric.Int64Counter, now func() time.Time) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := now()
		resp, err := handler(ctx, req)

		code := codes.OK
		if err != nil {
			code = status.Code(err)
		}
		calls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", info.FullMethod),
			attribute.String("code", code.String()),
		))
		if code != codes.OK && !isExpected(code) {
			log.Printf("grpc %s request=%s code=%s elapsed=%s: %v",
				info.FullMethod, grpcmeta.RequestIDFromContext(ctx), code, now().Sub(start), err)
		}
		return resp, err
	}
}

// isExpected reports codes that answer a caller mistake rather than a
// server fault.
func isExpected(code codes.Code) bool {
	switch code {
	case codes.InvalidArgument,
		codes.NotFound,
		codes.AlreadyExists,
		codes.PermissionDenied,
		codes.Unauthenticated,
		codes.FailedPrecondition,
		codes.Canceled:
		return true
	default:
		return false
	}
}
