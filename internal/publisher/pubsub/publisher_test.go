package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestPublishUsesDefaultTopic(t *testing.T) {
	t.Parallel()

	srv, client := newTestClient(t)
	ctx := context.Background()
	_, err := client.CreateTopic(ctx, "crawl-runs")
	require.NoError(t, err)

	pub := New(client, "crawl-runs")
	id, err := pub.Publish(ctx, "", map[string]any{"run_id": "run-1", "products": 3})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, pub.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, id, msgs[0].ID)
	require.Equal(t, "application/json", msgs[0].Attributes["content-type"])

	var body map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &body))
	require.Equal(t, "run-1", body["run_id"])
	require.EqualValues(t, 3, body["products"])
}

func TestPublishToMissingTopicFails(t *testing.T) {
	t.Parallel()

	_, client := newTestClient(t)
	pub := New(client, "missing")
	_, err := pub.Publish(context.Background(), "", "payload")
	require.Error(t, err)
	require.NoError(t, pub.Close())
}

func TestPublishRejectsUnmarshalablePayload(t *testing.T) {
	t.Parallel()

	_, client := newTestClient(t)
	_, err := New(client, "t").Publish(context.Background(), "", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}

func TestUnconfiguredPublisher(t *testing.T) {
	t.Parallel()

	var pub *Publisher
	_, err := pub.Publish(context.Background(), "t", "x")
	require.Error(t, err)
}

func TestOpenRequiresExistingTopic(t *testing.T) {
	t.Parallel()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	opts := []option.ClientOption{
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	}
	ctx := context.Background()

	_, err := Open(ctx, "", "runs", opts...)
	require.Error(t, err)
	_, err = Open(ctx, "test-project", "runs", opts...)
	require.ErrorContains(t, err, "does not exist")

	_, err = srv.GServer.CreateTopic(ctx, &pubsubpb.Topic{Name: "projects/test-project/topics/runs"})
	require.NoError(t, err)
	pub, err := Open(ctx, "test-project", "runs", opts...)
	require.NoError(t, err)
	require.NoError(t, pub.Close())
}
