// Package relay fans envelopes received by the host out to pluggable sinks.
// Producers call Emit, which never blocks. A background goroutine batches
// records by size and time, keeps only the newest STATE or SUSPEND per learner
// and content within a batch, and hands each batch to every sink with a
// per-sink timeout. Sink failures are logged and never reach the producer.
package relay
