package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/opportunity-crawler/internal/crawler"
	"github.com/JakeFAU/opportunity-crawler/internal/opportunity"
	pspublisher "github.com/JakeFAU/opportunity-crawler/internal/publisher/pubsub"
)

func TestPublishStatusChange(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close()

	topic, err := client.CreateTopic(ctx, "status-changes")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, "sub-id", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	pub := pspublisher.New(topic)
	change := crawler.StatusChange{
		CanonicalURL: "https://grad.example.edu/phd",
		ProgramType:  "phd",
		From:         opportunity.StatusActive,
		To:           opportunity.StatusBlocked,
		Reason:       "http_403",
		At:           time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, pub.PublishStatusChange(ctx, change))

	received := make(chan *pubsub.Message, 1)
	rctx, rcancel := context.WithCancel(ctx)
	go func() {
		_ = sub.Receive(rctx, func(_ context.Context, msg *pubsub.Message) {
			msg.Ack()
			select {
			case received <- msg:
			default:
			}
			rcancel()
		})
	}()

	select {
	case msg := <-received:
		var got crawler.StatusChange
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, change, got)
		assert.Equal(t, "BLOCKED", msg.Attributes["to"])
		assert.Equal(t, "phd", msg.Attributes["program_type"])
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
	require.NoError(t, pub.Close())
}

func TestPublishWithoutTopic(t *testing.T) {
	var pub *pspublisher.Publisher
	err := pub.PublishStatusChange(context.Background(), crawler.StatusChange{})
	require.Error(t, err)
	assert.NoError(t, pub.Close())
}

func TestDialRequiresIDs(t *testing.T) {
	_, err := pspublisher.Dial(context.Background(), "", "topic")
	require.Error(t, err)
}
