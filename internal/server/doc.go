// Package server assembles the drift kernel host: the syscall dispatcher,
// the boot protocol channel, and the HTTP/WebSocket gateway in front of it.
//
// Server Lifecycle:
//  1. Load configuration from environment/flags
//  2. Initialize logger (production or development)
//  3. Create the dispatcher and, optionally, the boot protocol channel
//  4. Setup gateway routes and middleware
//  5. Serve HTTP and the protocol task under one errgroup
//  6. Graceful shutdown on signal: drain HTTP, cancel kernel waiters
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.New(cfg, logger)
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
