// Copyright 2024 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package metrics provides the router's Prometheus metric surface,
covering requests, confidence, escalations, safety blocks, and budget
utilization.

# Overview

Collector registers and records Prometheus metrics using promauto's
automatic registration, avoiding manual Registry bookkeeping. Metrics
are namespace-isolated and implement the observer interface the
pipeline orchestrator depends on, so the orchestrator never imports
prometheus directly.

# Core types

  - Collector: holds the Counter/Histogram/Gauge vectors and exposes
    one Observe* method per pipeline event.

# Metrics

  - Request outcomes: total count by provider, routing reason, and
    finish reason; end-to-end duration histogram by provider.
  - Confidence: histogram of post-generation confidence by tier.
  - Escalations: count by originating tier.
  - Safety blocks: count by stage (pre_guard, post_guard).
  - Provider health: error count and latency histogram by provider.
  - Budget: gauges for the fraction of the daily token and credit caps
    consumed.
*/
package metrics
