package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newFakePublisher(t *testing.T, topic string) (*Publisher, *pstest.Server) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	client, err := pubsub.NewClient(ctx, "proj", option.WithGRPCConn(conn))
	require.NoError(t, err)
	_, err = client.CreateTopic(ctx, topic)
	require.NoError(t, err)

	pub := NewWithClient(client)
	t.Cleanup(func() { _ = pub.Close() })
	return pub, srv
}

func TestPublishEncodesJSON(t *testing.T) {
	t.Parallel()

	pub, srv := newFakePublisher(t, "scrapes")
	id, err := pub.Publish(context.Background(), "scrapes", map[string]any{"request_id": "r1", "success": true})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	require.Equal(t, "r1", decoded["request_id"])
	require.Equal(t, true, decoded["success"])
}

func TestPublishRejectsBadInput(t *testing.T) {
	t.Parallel()

	pub, _ := newFakePublisher(t, "scrapes")
	_, err := pub.Publish(context.Background(), "", "payload")
	require.ErrorContains(t, err, "topic is required")

	_, err = pub.Publish(context.Background(), "scrapes", make(chan int))
	require.ErrorContains(t, err, "marshal payload")

	var empty Publisher
	_, err = empty.Publish(context.Background(), "scrapes", "payload")
	require.ErrorContains(t, err, "not configured")
}

func TestNewRequiresProject(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), "")
	require.Error(t, err)
}
