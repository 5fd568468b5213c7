package document

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/content-progress-bridge/internal/bridge"
	"github.com/JakeFAU/content-progress-bridge/internal/envelope"
	"github.com/JakeFAU/content-progress-bridge/internal/transport/memory"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) step(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type fixture struct {
	viewer  *Viewer
	content *memory.Endpoint
	host    *memory.Endpoint
	clock   *stepClock
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	content, host := memory.Pipe()
	br, err := bridge.New(content, bridge.Config{})
	require.NoError(t, err)
	clock := &stepClock{now: time.Unix(1000, 0)}
	cfg.Clock = clock
	v, err := New(br, cfg)
	require.NoError(t, err)
	t.Cleanup(v.Close)
	require.NoError(t, br.Init(envelope.Meta{
		envelope.MetaContentID:      "pdf-poc-001",
		envelope.MetaContentVersion: "1.0.0",
	}))
	return &fixture{viewer: v, content: content, host: host, clock: clock}
}

func (f *fixture) tick(n int) {
	for i := 0; i < n; i++ {
		f.viewer.Tracker().Tick(f.clock.step(time.Second))
	}
}

func (f *fixture) events(t *testing.T, eventType string) []envelope.Event {
	t.Helper()
	var out []envelope.Event
	for _, env := range f.content.SentOfType(envelope.TypeEvent) {
		payload, err := env.Decode()
		require.NoError(t, err)
		if evt := payload.(envelope.Event); evt.EventType == eventType {
			out = append(out, evt)
		}
	}
	return out
}

// TestCoverageWithoutEnoughTime covers 8 of 10 pages in 25 active seconds.
func TestCoverageWithoutEnoughTime(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.viewer.Loaded(10)
	for i := 0; i < 7; i++ {
		f.viewer.Next()
	}
	f.tick(25)

	p := f.viewer.Tracker().Progress()
	require.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, p.Visited.Sorted())
	require.Equal(t, 25*time.Second, p.Elapsed)

	res, err := f.viewer.Complete()
	require.NoError(t, err)
	require.False(t, res.Completion)
	require.False(t, res.Success)

	completes := f.content.SentOfType(envelope.TypeComplete)
	require.Len(t, completes, 1)
	require.JSONEq(t,
		`{"completion":false,"success":false,"scoreRaw":0,"scoreMax":100,"totalTimeMs":25000,
		  "detail":{"visitedRatio":0.8,"visitedCount":8,"totalPages":10}}`,
		string(completes[0].Payload))
}

// TestProgressEveryTenActiveSeconds checks PROGRESS and STATE ride the elapsed axis.
func TestProgressEveryTenActiveSeconds(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.viewer.Loaded(4)
	f.tick(3)
	f.viewer.Next()
	f.tick(7)

	progress := f.events(t, EventProgress)
	require.Len(t, progress, 1)
	require.JSONEq(t,
		`{"page":2,"total":4,"visitedCount":2,"visitedRatio":0.5,"totalSec":10,"pageSec":7}`,
		string(progress[0].Data))

	f.viewer.Pause()
	f.tick(30)
	f.viewer.Play()
	f.tick(10)
	require.Len(t, f.events(t, EventProgress), 2)
	require.Len(t, f.content.SentOfType(envelope.TypeState), 2)
}

func TestPageAndZoomClamping(t *testing.T) {
	t.Parallel()

	var views []View
	f := newFixture(t, Config{Render: func(v View) { views = append(views, v) }})
	f.viewer.Loaded(5)
	f.viewer.GoTo(99)
	require.Equal(t, 5, f.viewer.Page())
	f.viewer.GoTo(-3)
	require.Equal(t, 1, f.viewer.Page())
	f.viewer.Prev()
	require.Equal(t, 1, f.viewer.Page())

	for i := 0; i < 20; i++ {
		f.viewer.ZoomIn()
	}
	require.Equal(t, MaxScale, f.viewer.Scale())
	for i := 0; i < 30; i++ {
		f.viewer.ZoomOut()
	}
	require.Equal(t, MinScale, f.viewer.Scale())
	require.Equal(t, MinScale, views[len(views)-1].Scale)

	change := f.events(t, EventPageChange)
	require.JSONEq(t, `{"page":1,"total":5,"scale":1}`, string(change[0].Data))
	require.Len(t, f.events(t, EventReady), 1)
}

// TestResumeBeforeLoadRendersResumedPage ensures the first render is the resumed page.
func TestResumeBeforeLoadRendersResumedPage(t *testing.T) {
	t.Parallel()

	var views []View
	f := newFixture(t, Config{Render: func(v View) { views = append(views, v) }})

	env, err := envelope.New(envelope.NewMeta(), envelope.ResumeData{State: json.RawMessage(
		`{"page":4,"scale":1.3,"scrollTop":120,"visited":[1,2,3,4],"totalSec":12}`,
	)}, time.Unix(0, 0))
	require.NoError(t, err)
	require.NoError(t, f.host.Send(context.Background(), env))

	f.viewer.Loaded(10)
	require.Equal(t, []View{{Page: 4, Total: 10, Scale: 1.3, ScrollTop: 120}}, views)

	p := f.viewer.Tracker().Progress()
	require.Equal(t, 12*time.Second, p.Elapsed)
	require.Equal(t, []int{1, 2, 3, 4}, p.Visited.Sorted())
}

func TestScrollCheckpointDebounced(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{ScrollDebounce: 20 * time.Millisecond})
	f.viewer.Loaded(3)
	f.viewer.Scroll(10)
	f.viewer.Scroll(20)
	f.viewer.Scroll(30)

	require.Eventually(t, func() bool {
		return len(f.content.SentOfType(envelope.TypeState)) == 1
	}, time.Second, 5*time.Millisecond)

	scroll := f.events(t, EventScroll)
	require.Len(t, scroll, 1)
	require.JSONEq(t, `{"page":1,"scrollTop":30}`, string(scroll[0].Data))
}

func TestFlushScrollSendsImmediately(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{ScrollDebounce: time.Hour})
	f.viewer.Loaded(3)
	f.viewer.Scroll(55)
	f.viewer.FlushScroll()
	f.viewer.FlushScroll()

	states := f.content.SentOfType(envelope.TypeState)
	require.Len(t, states, 1)
	require.JSONEq(t,
		`{"state":{"page":1,"total":3,"scale":1,"scrollTop":55,"visited":[1],"totalSec":0}}`,
		string(states[0].Payload))
}

// TestSuspendRoundTrip restores a suspended document into a fresh viewer.
func TestSuspendRoundTrip(t *testing.T) {
	t.Parallel()

	src := newFixture(t, Config{})
	src.viewer.Loaded(6)
	src.viewer.GoTo(3)
	src.viewer.ZoomIn()
	src.tick(4)
	require.NoError(t, src.viewer.Suspend())

	suspends := src.content.SentOfType(envelope.TypeSuspend)
	require.Len(t, suspends, 1)
	payload, err := suspends[0].Decode()
	require.NoError(t, err)
	suspend := payload.(envelope.Suspend)
	require.Equal(t, "page-3", suspend.Location)

	dst := newFixture(t, Config{})
	env, err := envelope.New(envelope.NewMeta(), envelope.ResumeData{State: suspend.State}, time.Unix(0, 0))
	require.NoError(t, err)
	require.NoError(t, dst.host.Send(context.Background(), env))
	dst.viewer.Loaded(6)

	want := src.viewer.Tracker().Progress()
	got := dst.viewer.Tracker().Progress()
	require.Equal(t, want.Position, got.Position)
	require.Equal(t, want.Elapsed, got.Elapsed)
	require.Equal(t, want.Visited.Sorted(), got.Visited.Sorted())
	require.Equal(t, 1.1, dst.viewer.Scale())
}

func TestClampScale(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1.3, ClampScale(1.26))
	require.Equal(t, MaxScale, ClampScale(9))
	require.Equal(t, MinScale, ClampScale(0))
}

// TestResumeFromLongerVersionDoesNotComplete resumes a 20 page checkpoint into
// a 10 page document; only the page actually shown counts.
func TestResumeFromLongerVersionDoesNotComplete(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	state := json.RawMessage(`{"page":2,"total":20,"visited":[11,12,13,14,15,16,17,18,19,20],"totalSec":40}`)
	env, err := envelope.New(envelope.NewMeta(), envelope.ResumeData{State: state}, time.Unix(0, 0))
	require.NoError(t, err)
	require.NoError(t, f.host.Send(context.Background(), env))
	f.viewer.Loaded(10)

	p := f.viewer.Tracker().Progress()
	require.Equal(t, float64(10), p.Duration)
	require.Equal(t, []int{2}, p.Visited.Sorted())
	require.InDelta(t, 0.1, p.VisitedRatio(), 1e-9)

	res, err := f.viewer.Complete()
	require.NoError(t, err)
	require.False(t, res.Completion)
}
