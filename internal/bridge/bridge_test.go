package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/content-progress-bridge/internal/envelope"
	"github.com/JakeFAU/content-progress-bridge/internal/transport/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func openPair(t *testing.T, meta envelope.Meta) (*Bridge, *memory.Endpoint, *memory.Endpoint) {
	t.Helper()
	content, host := memory.Pipe()
	b, err := New(content, Config{
		UserAgent: "test-agent",
		Clock:     fixedClock{t: time.UnixMilli(1700000000000)},
	})
	require.NoError(t, err)
	require.NoError(t, b.Init(meta))
	return b, content, host
}

func hostSend(t *testing.T, host *memory.Endpoint, payload envelope.Payload) {
	t.Helper()
	env, err := envelope.New(envelope.NewMeta(), payload, time.Unix(1, 0))
	require.NoError(t, err)
	require.NoError(t, host.Send(context.Background(), env))
}

// TestInitSendsReady verifies the first Init announces the frame with its identity.
func TestInitSendsReady(t *testing.T) {
	t.Parallel()

	_, content, _ := openPair(t, envelope.Meta{envelope.MetaContentID: "mp4-001"})

	ready := content.SentOfType(envelope.TypeReady)
	require.Len(t, ready, 1)
	require.Equal(t, "mp4-001", ready[0].Meta.ContentID())
	require.Equal(t, "", ready[0].Meta.ContentVersion())
	require.Equal(t, int64(1700000000000), ready[0].TS)
	require.JSONEq(t, `{"userAgent":"test-agent"}`, string(ready[0].Payload))
}

func TestNewRequiresTransport(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{})
	require.Error(t, err)
}

// TestSendBeforeInitRefused ensures nothing leaves the frame without an identity.
func TestSendBeforeInitRefused(t *testing.T) {
	t.Parallel()

	content := memory.New()
	b, err := New(content, Config{})
	require.NoError(t, err)

	require.ErrorIs(t, b.Track("VIDEO_PLAY", nil), ErrNotInitialized)
	require.ErrorIs(t, b.SaveState(map[string]int{"page": 1}), ErrNotInitialized)
	require.ErrorIs(t, b.RequestResume(), ErrNotInitialized)
	require.Empty(t, content.Sent())

	require.NoError(t, b.Init(envelope.Meta{envelope.MetaContentID: "doc"}))
	require.NoError(t, b.RequestResume())
	require.Len(t, content.Sent(), 2)
}

// TestFirstSessionReachesEarlyListener covers a host that answers READY
// synchronously: listeners registered between New and Init see the reply.
func TestFirstSessionReachesEarlyListener(t *testing.T) {
	t.Parallel()

	content, host := memory.Pipe()
	host.OnReceive(func(data []byte) {
		env, err := envelope.Decode(data)
		if err != nil || env.Type != envelope.TypeReady {
			return
		}
		hostSend(t, host, envelope.Session{SessionID: "sess-1"})
	})

	b, err := New(content, Config{})
	require.NoError(t, err)
	var got []string
	require.NoError(t, b.OnSession(func(s envelope.Session) error {
		got = append(got, s.SessionID)
		return nil
	}))
	require.NoError(t, b.Init(envelope.Meta{envelope.MetaContentID: "mp4-001"}))

	require.Equal(t, []string{"sess-1"}, got)
	require.Len(t, content.SentOfType(envelope.TypeReady), 1)
}

// TestInitMergesAdditively checks repeated Init keeps earlier keys and re-sends READY.
func TestInitMergesAdditively(t *testing.T) {
	t.Parallel()

	b, content, _ := openPair(t, envelope.Meta{"a": "1"})
	require.NoError(t, b.Init(envelope.Meta{"b": "2"}))

	meta := b.Meta()
	require.Equal(t, "1", meta["a"])
	require.Equal(t, "2", meta["b"])

	ready := content.SentOfType(envelope.TypeReady)
	require.Len(t, ready, 2)
	require.Equal(t, "1", ready[1].Meta["a"])
	require.Equal(t, "2", ready[1].Meta["b"])
	require.NotContains(t, ready[0].Meta, "b")
}

// TestFanOutIsolatesFailures ensures every listener runs in order even when earlier ones fail.
func TestFanOutIsolatesFailures(t *testing.T) {
	t.Parallel()

	b, _, host := openPair(t, nil)
	var order []int
	require.NoError(t, b.On(envelope.TypeSession, func(envelope.Payload) error {
		order = append(order, 1)
		return errors.New("boom")
	}))
	require.NoError(t, b.On(envelope.TypeSession, func(envelope.Payload) error {
		order = append(order, 2)
		panic("listener exploded")
	}))
	require.NoError(t, b.OnSession(func(s envelope.Session) error {
		require.Equal(t, "s-1", s.SessionID)
		order = append(order, 3)
		return nil
	}))

	hostSend(t, host, envelope.Session{SessionID: "s-1"})
	require.Equal(t, []int{1, 2, 3}, order)

	hostSend(t, host, envelope.Session{SessionID: "s-1"})
	require.Equal(t, []int{1, 2, 3, 1, 2, 3}, order)
}

// TestForeignTrafficIgnored verifies frames from other protocols never reach listeners.
func TestForeignTrafficIgnored(t *testing.T) {
	t.Parallel()

	b, content, _ := openPair(t, nil)
	calls := 0
	require.NoError(t, b.On(envelope.TypeSession, func(envelope.Payload) error {
		calls++
		return nil
	}))
	require.NoError(t, b.On(envelope.TypeResumeData, func(envelope.Payload) error {
		calls++
		return nil
	}))

	frames := []string{
		`{"channel":"OTHER","type":"SESSION","payload":{"sessionId":"x"}}`,
		`{"type":"RESUME_DATA","payload":{"state":{}}}`,
		`not json at all`,
		`{"channel":"MOVERON_POC","type":"PING","payload":{}}`,
		`{"channel":"MOVERON_POC","type":"STATE","payload":{"state":{}}}`,
		`{"channel":"MOVERON_POC","type":"SESSION","payload":{}}`,
	}
	for _, f := range frames {
		content.Inject([]byte(f))
	}
	require.Zero(t, calls)
}

// TestReentrantRegistration ensures a listener added mid-dispatch only sees later messages.
func TestReentrantRegistration(t *testing.T) {
	t.Parallel()

	b, _, host := openPair(t, nil)
	var late int
	var early int
	require.NoError(t, b.OnResumeData(func(envelope.ResumeData) error {
		early++
		return b.OnResumeData(func(envelope.ResumeData) error {
			late++
			return nil
		})
	}))

	hostSend(t, host, envelope.ResumeData{State: json.RawMessage(`{}`)})
	require.Equal(t, 1, early)
	require.Zero(t, late)

	hostSend(t, host, envelope.ResumeData{State: json.RawMessage(`{}`)})
	require.Equal(t, 2, early)
	require.Equal(t, 1, late)
}

func TestOnRejectsOutboundTypes(t *testing.T) {
	t.Parallel()

	b, _, _ := openPair(t, nil)
	require.Error(t, b.On(envelope.TypeState, func(envelope.Payload) error { return nil }))
	require.Error(t, b.On(envelope.TypeSession, nil))
}

// TestSendWithoutPeerIsSilent verifies an unreachable host is indistinguishable from success.
func TestSendWithoutPeerIsSilent(t *testing.T) {
	t.Parallel()

	ep := memory.New()
	b, err := New(ep, Config{})
	require.NoError(t, err)
	require.NoError(t, b.Init(envelope.Meta{envelope.MetaContentID: "doc"}))
	require.NoError(t, b.Track("PDF_READY", map[string]int{"total": 3}))
	require.NoError(t, b.RequestResume())
	require.Len(t, ep.Sent(), 3)
}

// TestOutboundPayloadShapes covers every outbound operation's wire body.
func TestOutboundPayloadShapes(t *testing.T) {
	t.Parallel()

	b, content, _ := openPair(t, envelope.Meta{envelope.MetaContentID: "c", envelope.MetaContentVersion: "1"})
	content.Reset()

	require.NoError(t, b.Track("VIDEO_PLAY", map[string]float64{"position": 3}))
	require.NoError(t, b.SetLocation("video"))
	require.NoError(t, b.SaveState(json.RawMessage(`{"position":3}`)))
	require.NoError(t, b.RequestResume())
	require.NoError(t, b.Suspend(SuspendRequest{Location: "page-2", State: map[string]int{"page": 2}}))
	require.NoError(t, b.Complete(CompleteRequest{
		Completion:  true,
		Success:     true,
		ScoreRaw:    100,
		ScoreMax:    100,
		TotalTimeMs: 4000,
	}))

	sent := content.Sent()
	require.Len(t, sent, 6)
	want := []struct {
		typ  envelope.Type
		body string
	}{
		{envelope.TypeEvent, `{"eventType":"VIDEO_PLAY","data":{"position":3}}`},
		{envelope.TypeLocation, `{"location":"video"}`},
		{envelope.TypeState, `{"state":{"position":3}}`},
		{envelope.TypeResumeRequest, `{}`},
		{envelope.TypeSuspend, `{"location":"page-2","state":{"page":2}}`},
		{envelope.TypeComplete, `{"completion":true,"success":true,"scoreRaw":100,"scoreMax":100,"totalTimeMs":4000}`},
	}
	for i, w := range want {
		require.Equal(t, w.typ, sent[i].Type)
		require.JSONEq(t, w.body, string(sent[i].Payload))
		require.Equal(t, "c", sent[i].Meta.ContentID())
		require.Equal(t, envelope.Channel, sent[i].Channel)
	}
}

func TestTrackRequiresEventType(t *testing.T) {
	t.Parallel()

	b, _, _ := openPair(t, nil)
	require.Error(t, b.Track("", nil))
	require.Error(t, b.SaveState(make(chan int)))
}
