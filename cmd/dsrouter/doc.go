// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main provides the DS-Router server entry point.

cmd/dsrouter wires configuration, the safety/routing/budget pipeline,
and the HTTP transport into a runnable process, and exposes serve,
version, and health subcommands.

# Core types

  - Server      — owns the chat/admin HTTP server, the metrics server,
    and their shared collaborators
  - Middleware  — the http.Handler wrapper signature, chained via Chain

# Capabilities

  - Subcommands: serve (start the server), version, health
  - Middleware chain: Recovery, RequestID, RequestLogger, SecurityHeaders,
    CORS, RateLimiter (per-IP token bucket)
  - Metrics server: a second port exposing /metrics via promhttp
  - Graceful shutdown: signal listen -> stop HTTP -> stop metrics -> wait
  - Build injection: Version, BuildTime, GitCommit set via ldflags
*/
package main
