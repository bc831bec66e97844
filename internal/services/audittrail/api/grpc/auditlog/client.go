package auditlog

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the integrity service.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func invoke[Req, Resp any](ctx context.Context, conn grpc.ClientConnInterface, method string, req *Req, opts ...grpc.CallOption) (*Resp, error) {
	in, err := encodeMessage(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	resp := new(Resp)
	if err := decodeMessage(out, resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	return resp, nil
}

func (c *Client) AppendEntry(ctx context.Context, in *AppendEntryRequest, opts ...grpc.CallOption) (*AppendEntryResponse, error) {
	return invoke[AppendEntryRequest, AppendEntryResponse](ctx, c.conn, MethodAppendEntry, in, opts...)
}

func (c *Client) UpdateEntry(ctx context.Context, in *UpdateEntryRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[UpdateEntryRequest, Empty](ctx, c.conn, MethodUpdateEntry, in, opts...)
}

func (c *Client) DeleteEntry(ctx context.Context, in *DeleteEntryRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[DeleteEntryRequest, Empty](ctx, c.conn, MethodDeleteEntry, in, opts...)
}

func (c *Client) Verify(ctx context.Context, in *VerifyRequest, opts ...grpc.CallOption) (*VerifyResponse, error) {
	return invoke[VerifyRequest, VerifyResponse](ctx, c.conn, MethodVerify, in, opts...)
}

func (c *Client) GetStatus(ctx context.Context, in *GetStatusRequest, opts ...grpc.CallOption) (*GetStatusResponse, error) {
	return invoke[GetStatusRequest, GetStatusResponse](ctx, c.conn, MethodGetStatus, in, opts...)
}

func (c *Client) ListAlerts(ctx context.Context, in *ListAlertsRequest, opts ...grpc.CallOption) (*ListAlertsResponse, error) {
	return invoke[ListAlertsRequest, ListAlertsResponse](ctx, c.conn, MethodListAlerts, in, opts...)
}

func (c *Client) AcknowledgeAlert(ctx context.Context, in *AlertActionRequest, opts ...grpc.CallOption) (*AlertActionResponse, error) {
	return invoke[AlertActionRequest, AlertActionResponse](ctx, c.conn, MethodAcknowledgeAlert, in, opts...)
}

func (c *Client) ClearAlert(ctx context.Context, in *AlertActionRequest, opts ...grpc.CallOption) (*AlertActionResponse, error) {
	return invoke[AlertActionRequest, AlertActionResponse](ctx, c.conn, MethodClearAlert, in, opts...)
}

func (c *Client) ListRuns(ctx context.Context, in *ListRunsRequest, opts ...grpc.CallOption) (*ListRunsResponse, error) {
	return invoke[ListRunsRequest, ListRunsResponse](ctx, c.conn, MethodListRuns, in, opts...)
}

func (c *Client) RotateSecret(ctx context.Context, in *RotateSecretRequest, opts ...grpc.CallOption) (*RotateSecretResponse, error) {
	return invoke[RotateSecretRequest, RotateSecretResponse](ctx, c.conn, MethodRotateSecret, in, opts...)
}

func (c *Client) ListSecretVersions(ctx context.Context, in *ListSecretVersionsRequest, opts ...grpc.CallOption) (*ListSecretVersionsResponse, error) {
	return invoke[ListSecretVersionsRequest, ListSecretVersionsResponse](ctx, c.conn, MethodListSecretVersions, in, opts...)
}
