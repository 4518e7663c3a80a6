// Copyright 2024 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package config loads DS-Router's configuration from defaults, an
optional YAML file, and environment variable overrides, in that order
of precedence.

# Core types

  - Config: the complete configuration tree, with one sub-struct per
    subsystem (routing thresholds, budget caps, circuit breaker
    parameters, cache, safety sandwich, audit sink, admin credential,
    logging, and the static provider table).
  - Loader: a builder that applies defaults, then an optional YAML
    file, then environment variables, then validation.

Each subsystem's YAML-facing struct carries a conversion method (for
example RoutingConfig.Thresholds) to the runtime type the subsystem's
own package expects, so config stays the only package that needs to
know about YAML and env tags.
*/
package config
