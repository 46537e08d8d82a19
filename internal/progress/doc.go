// Package progress carries crawl events from the walkers to pluggable sinks.
// Emit never blocks; a background goroutine batches events and fans them out
// to sinks such as structured logs, Prometheus collectors, the run history
// store and the notification publisher.
package progress
