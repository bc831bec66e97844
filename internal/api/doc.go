// Package api holds transport concerns shared by audit trail services.
//
// # gRPC
//
// grpc/metadata carries request ids and bearer credentials between clients
// and handlers. grpc/interceptors holds the unary interceptors installed on
// every server.
//
// Service handlers live with their service, under
// internal/services/<name>/api/grpc, so a service owns its wire contract.
package api
