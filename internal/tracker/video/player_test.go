package video

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/content-progress-bridge/internal/bridge"
	"github.com/JakeFAU/content-progress-bridge/internal/envelope"
	"github.com/JakeFAU/content-progress-bridge/internal/transport/memory"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

func newPlayer(t *testing.T, cfg Config) (*Player, *memory.Endpoint, *memory.Endpoint) {
	t.Helper()
	content, host := memory.Pipe()
	br, err := bridge.New(content, bridge.Config{})
	require.NoError(t, err)
	p, err := New(br, cfg)
	require.NoError(t, err)
	require.NoError(t, br.Init(envelope.Meta{
		envelope.MetaContentID:      "mp4-poc-001",
		envelope.MetaContentVersion: "1.0.0",
	}))
	return p, content, host
}

func events(t *testing.T, ep *memory.Endpoint, eventType string) []envelope.Event {
	t.Helper()
	var out []envelope.Event
	for _, env := range ep.SentOfType(envelope.TypeEvent) {
		payload, err := env.Decode()
		require.NoError(t, err)
		evt := payload.(envelope.Event)
		if evt.EventType == eventType {
			out = append(out, evt)
		}
	}
	return out
}

// TestWatchedPastThresholdCompletes covers the 81 of 100 seconds scenario.
func TestWatchedPastThresholdCompletes(t *testing.T) {
	t.Parallel()

	p, content, _ := newPlayer(t, Config{})
	p.Loaded(100)
	p.Play()
	for pos := 1.0; pos <= 81; pos++ {
		p.TimeUpdate(pos)
	}

	res, err := p.Complete()
	require.NoError(t, err)
	require.True(t, res.Completion)
	require.True(t, res.Success)
	require.Equal(t, float64(100), res.ScoreRaw)

	completes := content.SentOfType(envelope.TypeComplete)
	require.Len(t, completes, 1)
	payload, err := completes[0].Decode()
	require.NoError(t, err)
	complete := payload.(envelope.Complete)
	require.True(t, complete.Completion)
	require.Equal(t, float64(100), complete.ScoreMax)
}

func TestWatchedShortIsIncomplete(t *testing.T) {
	t.Parallel()

	p, _, _ := newPlayer(t, Config{})
	p.Loaded(100)
	p.TimeUpdate(40)

	res, err := p.Complete()
	require.NoError(t, err)
	require.False(t, res.Completion)
	require.Zero(t, res.ScoreRaw)
}

// TestProgressEventsThrottledOnPosition checks VIDEO_PROGRESS fires on 5 second crossings.
func TestProgressEventsThrottledOnPosition(t *testing.T) {
	t.Parallel()

	p, content, _ := newPlayer(t, Config{})
	p.Loaded(100)
	for _, pos := range []float64{1, 2, 3, 4, 5, 6, 11} {
		p.TimeUpdate(pos)
	}

	progress := events(t, content, EventProgress)
	require.Len(t, progress, 2)
	require.JSONEq(t, `{"position":11,"duration":100,"watchedRatio":0.11}`, string(progress[1].Data))
	require.Len(t, content.SentOfType(envelope.TypeState), 3)
}

// TestResumeClampsToDuration delivers an out-of-range checkpoint before metadata loads.
func TestResumeClampsToDuration(t *testing.T) {
	t.Parallel()

	var seeks []float64
	p, _, host := newPlayer(t, Config{Seek: func(pos float64) { seeks = append(seeks, pos) }})

	env, err := envelope.New(envelope.NewMeta(), envelope.ResumeData{
		State: json.RawMessage(`{"position":150,"watchedSeconds":42}`),
	}, time.Unix(0, 0))
	require.NoError(t, err)
	require.NoError(t, host.Send(context.Background(), env))
	require.Empty(t, seeks)

	p.Loaded(120)
	require.Equal(t, []float64{120}, seeks)
	require.Equal(t, float64(120), p.Tracker().Progress().Position)
	require.Equal(t, 42*time.Second, p.Tracker().Progress().Elapsed)
}

// TestSuspendCheckpointShape verifies the SUSPEND body is self-contained.
func TestSuspendCheckpointShape(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: time.Unix(100, 0)}
	p, content, _ := newPlayer(t, Config{Clock: clock})
	p.Loaded(60)
	p.Play()
	p.TimeUpdate(1.5)
	clock.now = clock.now.Add(time.Second)
	p.Tracker().Tick(clock.now)
	p.TimeUpdate(2.5)

	require.NoError(t, p.Suspend())
	suspends := content.SentOfType(envelope.TypeSuspend)
	require.Len(t, suspends, 1)
	require.JSONEq(t,
		`{"location":"video","state":{"position":2.5,"duration":60,"watchedSeconds":1,"visited":[1,2]}}`,
		string(suspends[0].Payload))
}

func TestControlEvents(t *testing.T) {
	t.Parallel()

	p, content, _ := newPlayer(t, Config{})
	p.Loaded(30)
	p.Play()
	p.SetRate(1.5)
	p.SetRate(-1)
	require.True(t, p.ToggleMute())
	require.False(t, p.ToggleMute())
	p.SeekTo(12.7)
	p.Pause()
	p.Ended()

	require.Equal(t, 1.5, p.Rate())
	require.Len(t, events(t, content, EventReady), 1)
	require.Len(t, events(t, content, EventPlay), 1)
	require.Len(t, events(t, content, EventRate), 1)
	require.Len(t, events(t, content, EventMuted), 1)
	require.Len(t, events(t, content, EventUnmuted), 1)
	require.Len(t, events(t, content, EventPause), 1)

	seek := events(t, content, EventSeek)
	require.Len(t, seek, 1)
	require.JSONEq(t, `{"position":12}`, string(seek[0].Data))

	ended := events(t, content, EventEnded)
	require.Len(t, ended, 1)
	require.JSONEq(t, `{"position":30}`, string(ended[0].Data))
}
