// Package timeouts defines shared timeout constants used across audit trail
// binaries so the durations stay discoverable in one place.
package timeouts

import "time"

// Shutdown limits how long a server or telemetry exporter waits for
// in-flight work during graceful shutdown.
const Shutdown = 5 * time.Second

// LedgerWrite caps how long a verification run record may take to persist
// after the scan itself was cancelled.
const LedgerWrite = 5 * time.Second

// StatusRead caps a single status surface read against the run ledger.
const StatusRead = 2 * time.Second
