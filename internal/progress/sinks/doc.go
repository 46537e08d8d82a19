// Package sinks implements progress consumers: structured logging, Prometheus
// collectors, the run history store and run notifications. Each sink
// satisfies progress.Sink.
package sinks
