package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/content-progress-bridge/internal/envelope"
	"github.com/JakeFAU/content-progress-bridge/internal/transport/memory"
)

// ExampleBridge_OnSession wires a bridge to an in-memory host and receives a session.
func ExampleBridge_OnSession() {
	content, host := memory.Pipe()
	host.OnReceive(func(data []byte) {
		env, err := envelope.Decode(data)
		if err != nil || env.Type != envelope.TypeReady {
			return
		}
		reply, err := envelope.New(envelope.NewMeta(), envelope.Session{SessionID: "sess-42"}, time.Unix(0, 0))
		if err != nil {
			panic(err)
		}
		_ = host.Send(context.Background(), reply)
	})

	b, err := New(content, Config{})
	if err != nil {
		panic(err)
	}
	if err := b.OnSession(func(s envelope.Session) error {
		fmt.Println("session:", s.SessionID)
		return nil
	}); err != nil {
		panic(err)
	}
	if err := b.Init(envelope.Meta{envelope.MetaContentID: "mp4-001"}); err != nil {
		panic(err)
	}
	// Output:
	// session: sess-42
}
