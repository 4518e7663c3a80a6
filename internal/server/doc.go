// Copyright 2024 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the MIT license that
// can be found in the LICENSE file.

/*
Package server provides HTTP/HTTPS server lifecycle management: a
non-blocking Start, graceful Shutdown, and signal-driven
WaitForShutdown, wrapped around a plain net/http.Server.

Manager holds the http.Server, its net.Listener, and an asynchronous
error channel. Start and StartTLS bind the listener and run Serve in a
background goroutine; WaitForShutdown blocks until SIGINT/SIGTERM or an
async serve error arrives and then runs Shutdown, which drains
in-flight requests within Config.ShutdownTimeout.

cmd/dsrouter runs two Managers side by side: one serving the chat and
admin transport mux, one serving /metrics.
*/
package server
