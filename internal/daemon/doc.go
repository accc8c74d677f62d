// Package daemon coordinates the long-running danmud process.
//
// It wires the library store, provider chain, event queue, correlator,
// dedup guard and acquisition orchestrator into a single lifecycle with
// flock-based locking to prevent multiple instances. The HTTP API accepts
// library notifications and manual refreshes, serves status, search and
// stored comment documents, and owns batch completion notifications.
//
// Keep orchestration logic here: matching and acquisition live in their own
// packages while the daemon focuses on startup, shutdown and the API surface.
package daemon
