/*
Package runtime hosts the decoder service that ties the connectflow packages
together.

# Architecture Overview

A Service owns the shared collaborators for decoding Connect responses: the
validated Config, a ServiceLogger, an optional Prometheus collector and an
optional result sink. Each response gets its own session; nothing mutable is
shared between responses.

# Package Structure

## Core Service (service.go)

The Service struct wires together:
  - stream sessions for server-streaming responses (DecodeStream)
  - the unary decoder for single-message responses (DecodeUnary)
  - the result sink that publishes finalized documents
  - HTTP servers for metrics and the stats API

## Session Hooks (hooks.go)

SessionHooks receive start, done and error callbacks around every decoded
response. LoggingHooks and AlertingHooks cover the common cases.

## Stats API (stats_api.go, resources.go)

When metrics are enabled with a port, /metrics serves the Prometheus registry
and /api/stats serves a JSON snapshot of per-message decode counts together
with coarse process resource usage.

# Subpackages

  - frame: Connect envelope demultiplexer
  - wire: bounds-checked protobuf wire cursor
  - schema: built-in descriptors and descriptor set loading
  - decoder: schema decode with a tolerant wire-walk fallback
  - result: accumulator, reducer and finalization
  - stream: per-response streaming session
  - unary: unary body decoding
  - sink: Watermill publishers for finalized results
  - config, logging, metrics, metadata, ids, jsoncodec, errors: ambient support
*/
package runtime
