/*
Package monitoring provides metrics collection for the kernel core and its
HTTP gateway.

# Overview

This package implements Prometheus-based metrics: syscall counts and
latencies by type and result code, signal-core mutation and wakeup counters,
channel transaction gauges, and gateway HTTP/WebSocket metrics. Each Metrics
instance owns its own registry.

# Usage

	// Create metrics collector
	metrics := monitoring.NewMetrics()

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

	// Record a syscall outcome
	metrics.RecordSyscall("raise_peer_user_signal", "ok", elapsed)

# Metrics Endpoint

Expose metrics via the per-instance registry handler:

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
