// Package metadata reads and writes the request metadata carried by audit
// trail gRPC calls.
package metadata

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// AuthorizationHeader carries the invocation credential.
const AuthorizationHeader = "authorization"

// RequestIDHeader is the gRPC metadata key for request correlation IDs.
const RequestIDHeader = "x-audittrail-request-id"

type contextKey string

const requestIDContextKey contextKey = "audittrail-request-id"

// RequestIDFromContext returns the request ID stored in context.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDContextKey).(string)
	return value
}

// WithRequestID stores the request ID in context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDContextKey, requestID)
}

// CredentialFromContext returns the raw authorization value of an incoming
// call, or "" when none was sent.
func CredentialFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	return strings.TrimSpace(FirstMetadataValue(md, AuthorizationHeader))
}

// WithCredential attaches credential to an outgoing call.
func WithCredential(ctx context.Context, credential string) context.Context {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return ctx
	}
	if !strings.HasPrefix(strings.ToLower(credential), "bearer ") {
		credential = "Bearer " + credential
	}
	return metadata.AppendToOutgoingContext(ctx, AuthorizationHeader, credential)
}

// IsPrintableASCII reports whether a string contains only printable ASCII characters.
func IsPrintableASCII(value string) bool {
	if value == "" {
		return false
	}
	for i := 0; i < len(value); i++ {
		if value[i] < 0x20 || value[i] > 0x7e {
			return false
		}
	}
	return true
}

// FirstMetadataValue returns the first printable ASCII metadata value for a key.
func FirstMetadataValue(md metadata.MD, key string) string {
	if len(md) == 0 {
		return ""
	}
	for mdKey, values := range md {
		if !strings.EqualFold(mdKey, key) {
			continue
		}
		for _, value := range values {
			if IsPrintableASCII(value) {
				return value
			}
		}
	}
	return ""
}

// UnaryServerInterceptor makes sure every call carries a request ID and
// echoes it back in the response header.
func UnaryServerInterceptor(idGenerator func() string) grpc.UnaryServerInterceptor {
	if idGenerator == nil {
		idGenerator = uuid.NewString
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			requestID = FirstMetadataValue(md, RequestIDHeader)
		}
		if requestID == "" {
			requestID = idGenerator()
		}
		ctx = WithRequestID(ctx, requestID)
		if err := grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, requestID)); err != nil {
			return nil, status.Errorf(codes.Internal, "set response metadata: %v", err)
		}
		return handler(ctx, req)
	}
}
