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

func TestPublisherPublishesJSON(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	defer func() { _ = srv.Close() }()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)

	_, err = client.CreateTopic(ctx, "content-changes")
	require.NoError(t, err)

	pub := NewFromClient(client)
	id, err := pub.Publish(ctx, "content-changes", map[string]any{"task_id": 7, "content_hash": "abc"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	require.Equal(t, "abc", decoded["content_hash"])

	require.NoError(t, pub.Close())
}

func TestPublisherRejectsMissingTopic(t *testing.T) {
	pub := &Publisher{}
	_, err := pub.Publish(context.Background(), "", "x")
	require.Error(t, err)
	require.NoError(t, pub.Close())
}
