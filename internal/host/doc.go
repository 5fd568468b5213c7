// Package host is a reference host channel for content frames. It binds each
// frame to a session on READY, persists STATE and SUSPEND checkpoints with
// latest-timestamp-wins semantics, answers RESUME_REQUEST with the stored
// checkpoint, records COMPLETE reports and relays every accepted envelope to
// downstream sinks.
//
// The host is supporting infrastructure: content frames never depend on it,
// only on the envelope protocol it speaks.
package host
