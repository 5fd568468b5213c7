package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/content-progress-bridge/internal/envelope"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Record) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting a record and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{
		BufferSize:      4,
		MaxBatchRecords: 1,
		MaxBatchWait:    time.Second,
	}, sink)

	env, err := envelope.New(envelope.NewMeta(), envelope.Ready{UserAgent: "example"}, time.Unix(0, 0))
	if err != nil {
		panic(err)
	}
	hub.Emit(Record{LearnerID: "learner-1", Envelope: env, ReceivedAt: time.Unix(1, 0)})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("records forwarded: %d\n", sink.total)
	// Output:
	// records forwarded: 1
}

// ExampleSink implements a custom Sink that counts COMPLETE envelopes.
func ExampleSink() {
	completions := 0
	capture := sinkFunc(func(_ context.Context, batch []Record) error {
		for _, rec := range batch {
			if rec.Envelope.Type == envelope.TypeComplete {
				completions++
			}
		}
		return nil
	})
	hub := NewHub(Config{
		BufferSize:      2,
		MaxBatchRecords: 1,
		MaxBatchWait:    time.Second,
	}, capture)

	env, err := envelope.New(envelope.NewMeta(), envelope.Complete{Completion: true, Success: true}, time.Unix(0, 0))
	if err != nil {
		panic(err)
	}
	hub.Emit(Record{LearnerID: "learner-1", Envelope: env, ReceivedAt: time.Unix(1, 0)})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("completions: %d\n", completions)
	// Output:
	// completions: 1
}

type sinkFunc func(context.Context, []Record) error

func (f sinkFunc) Consume(ctx context.Context, batch []Record) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
