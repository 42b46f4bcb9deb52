// Package main is the entry point for the drift kernel host daemon.
//
// kerneld runs the notification and IPC core in-process and fronts it with
// an HTTP/WebSocket gateway, so the syscall surface can be driven from
// ordinary tooling.
//
// The daemon provides:
//   - REST endpoints for every syscall (notify, wait, transact)
//   - WebSocket streaming of signal state changes
//   - A boot-time validation protocol channel
//   - Prometheus metrics and rate limiting
//
// Configuration:
//   - Environment variables (12-factor)
//   - Optional TOML file overlay (-config)
//   - CLI flags override both
//
// Usage:
//
//	./kerneld -port 8400
//	./kerneld -config /etc/drift/kerneld.toml
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
