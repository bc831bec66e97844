// Package integrity provides the secret registry and keyed hash used to
// protect the audit log's tamper-evident chains.
//
// Why this package exists:
// - It keeps versioned key material append-only so history signed with an
//   old version keeps verifying after rotation.
// - It isolates cryptographic details from storage and transport code.
// - Only the chain builder, the verification engine and the admin rotation
//   path are handed a *Registry; read and display paths never are.
package integrity
