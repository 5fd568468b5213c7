package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/content-progress-bridge/internal/envelope"
	"github.com/JakeFAU/content-progress-bridge/internal/transport"
)

// newHost starts a server that answers every READY with a SESSION and reports
// how Run returned.
func newHost(t *testing.T) (*httptest.Server, <-chan error) {
	t.Helper()
	runErr := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r, Config{PongWait: time.Second})
		if err != nil {
			runErr <- err
			return
		}
		conn.OnReceive(func(data []byte) {
			env, err := envelope.Decode(data)
			if err != nil || env.Type != envelope.TypeReady {
				return
			}
			reply, err := envelope.New(env.Meta, envelope.Session{SessionID: "sess-ws"}, time.Now())
			if err != nil {
				return
			}
			_ = conn.Send(r.Context(), reply)
		})
		runErr <- conn.Run(r.Context())
	}))
	t.Cleanup(srv.Close)
	return srv, runErr
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialExchangesEnvelopes(t *testing.T) {
	t.Parallel()

	srv, hostDone := newHost(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, wsURL(srv), nil, Config{})
	require.NoError(t, err)

	received := make(chan envelope.Envelope, 1)
	client.OnReceive(func(data []byte) {
		env, err := envelope.Decode(data)
		if err == nil {
			received <- env
		}
	})
	clientDone := make(chan error, 1)
	go func() { clientDone <- client.Run(ctx) }()

	meta := envelope.NewMeta().Merge(envelope.Meta{envelope.MetaContentID: "mp4-001"})
	ready, err := envelope.New(meta, envelope.Ready{UserAgent: "ws-test"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, client.Send(ctx, ready))

	select {
	case env := <-received:
		require.Equal(t, envelope.TypeSession, env.Type)
		require.Equal(t, "mp4-001", env.Meta.ContentID())
		payload, err := env.Decode()
		require.NoError(t, err)
		require.Equal(t, "sess-ws", payload.(envelope.Session).SessionID)
	case <-ctx.Done():
		t.Fatal("no SESSION reply")
	}

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	require.ErrorIs(t, client.Send(ctx, ready), transport.ErrUnavailable)

	select {
	case err := <-hostDone:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("host read loop did not stop")
	}
	require.NoError(t, <-clientDone)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	srv, _ := newHost(t)
	client, err := Dial(context.Background(), wsURL(srv), nil, Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDialFailsWithoutServer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	_, err := Dial(context.Background(), url, nil, Config{HandshakeTimeout: time.Second})
	require.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	require.Equal(t, defaultPongWait, cfg.PongWait)
	require.Equal(t, defaultPingInterval, cfg.PingInterval)
	require.Equal(t, int64(defaultReadLimit), cfg.ReadLimit)

	cfg = Config{PongWait: 10 * time.Second, PingInterval: time.Minute}.withDefaults()
	require.Equal(t, 9*time.Second, cfg.PingInterval)
}
