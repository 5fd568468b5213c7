// Package tracker implements the content-side progress state machine shared by
// every content type. A Tracker owns Progress for one content instance,
// accumulates active time, throttles telemetry and checkpoints on interval
// crossings, and drives suspend, resume and completion through a bridge.
//
// Content types supply units (seconds, pages), a checkpoint Codec and a
// completion Policy; see the video and document subpackages.
package tracker
