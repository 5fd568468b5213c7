package pubsub

import (
	"context"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/content-progress-bridge/internal/publisher"
)

func TestPublishSendsDataAndAttributes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := pstest.NewServer()
	defer func() { _ = srv.Close() }()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	_, err = client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: "projects/project-id/topics/envelopes"})
	require.NoError(t, err)

	topicPublisher := client.Publisher("envelopes")
	defer topicPublisher.Stop()

	pub := New(topicPublisher)
	id, err := pub.Publish(ctx, "ignored", publisher.Message{
		Data:       []byte(`{"type":"COMPLETE"}`),
		Attributes: map[string]string{"type": "COMPLETE", "content_id": "mp4-001"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.JSONEq(t, `{"type":"COMPLETE"}`, string(msgs[0].Data))
	require.Equal(t, "COMPLETE", msgs[0].Attributes["type"])
	require.Equal(t, "mp4-001", msgs[0].Attributes["content_id"])
}

func TestPublishRequiresPublisher(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "t", publisher.Message{})
	require.Error(t, err)
}
