package realtime_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/realtime"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func receive(t *testing.T, feed realtime.Feed) realtime.ChangeEvent {
	t.Helper()
	select {
	case evt, ok := <-feed.Events():
		require.True(t, ok, "feed closed unexpectedly")
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
	return realtime.ChangeEvent{}
}

func assertSilent(t *testing.T, feed realtime.Feed) {
	t.Helper()
	select {
	case evt := <-feed.Events():
		t.Fatalf("unexpected event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBrokerScopesEventsByUser(t *testing.T) {
	broker := realtime.NewMemoryBroker(zaptest.NewLogger(t))
	defer broker.Close()

	ctx := context.Background()
	alice := broker.Subscribe("mcp_servers", "alice")
	bob := broker.Subscribe("mcp_servers", "bob")
	defer alice.Close()
	defer bob.Close()

	evt, err := realtime.NewChangeEvent("mcp_servers", realtime.EventInsert, "alice", "srv-1", map[string]string{"id": "srv-1"})
	require.NoError(t, err)
	require.NoError(t, broker.Publish(ctx, evt))

	got := receive(t, alice)
	assert.Equal(t, "srv-1", got.RowID)
	assert.Equal(t, realtime.EventInsert, got.Type)
	assertSilent(t, bob)
}

func TestMemoryBrokerPublicRowsReachEveryone(t *testing.T) {
	broker := realtime.NewMemoryBroker(zaptest.NewLogger(t))
	defer broker.Close()

	alice := broker.Subscribe("agents", "alice")
	other := broker.Subscribe("user_agents", "alice")
	defer alice.Close()
	defer other.Close()

	evt, err := realtime.NewChangeEvent("agents", realtime.EventUpdate, "", "agent-1", nil)
	require.NoError(t, err)
	require.NoError(t, broker.Publish(context.Background(), evt))

	assert.Equal(t, "agent-1", receive(t, alice).RowID)
	assertSilent(t, other)
}

func TestMemoryBrokerPreservesOrderForSlowSubscriber(t *testing.T) {
	broker := realtime.NewMemoryBroker(zaptest.NewLogger(t))
	defer broker.Close()

	feed := broker.Subscribe("a2a_messages", "u1")
	defer feed.Close()

	for _, id := range []string{"m1", "m2", "m3"} {
		evt, err := realtime.NewChangeEvent("a2a_messages", realtime.EventInsert, "u1", id, nil)
		require.NoError(t, err)
		require.NoError(t, broker.Publish(context.Background(), evt))
	}

	assert.Equal(t, "m1", receive(t, feed).RowID)
	assert.Equal(t, "m2", receive(t, feed).RowID)
	assert.Equal(t, "m3", receive(t, feed).RowID)
}

func TestMemoryBrokerCloseUnsubscribes(t *testing.T) {
	broker := realtime.NewMemoryBroker(zaptest.NewLogger(t))

	feed := broker.Subscribe("agents", "u1")
	require.Equal(t, 1, broker.SubscriberCount("agents"))
	require.NoError(t, feed.Close())
	assert.Equal(t, 0, broker.SubscriberCount("agents"))

	require.NoError(t, broker.Close())
	evt, err := realtime.NewChangeEvent("agents", realtime.EventInsert, "", "a", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, broker.Publish(context.Background(), evt), realtime.ErrBrokerClosed)
}

func TestChangeEventDecode(t *testing.T) {
	evt, err := realtime.NewChangeEvent("rag_queries", realtime.EventInsert, "u1", "q1", map[string]any{"query": "hello"})
	require.NoError(t, err)

	var record struct {
		Query string `json:"query"`
	}
	require.NoError(t, evt.Decode(&record))
	assert.Equal(t, "hello", record.Query)

	empty, err := realtime.NewChangeEvent("rag_queries", realtime.EventDelete, "u1", "q1", nil)
	require.NoError(t, err)
	assert.Error(t, empty.Decode(&record))
}

func TestRedisBrokerFansOutAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	clientA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer clientA.Close()
	defer clientB.Close()

	brokerA, err := realtime.NewRedisBroker(ctx, clientA, "echosync:test", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer brokerA.Close()
	brokerB, err := realtime.NewRedisBroker(ctx, clientB, "echosync:test", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer brokerB.Close()

	feed := brokerB.Subscribe("vector_indexes", "u1")
	defer feed.Close()

	evt, err := realtime.NewChangeEvent("vector_indexes", realtime.EventUpdate, "u1", "idx-1", map[string]string{"status": "ready"})
	require.NoError(t, err)
	require.NoError(t, brokerA.Publish(ctx, evt))

	got := receive(t, feed)
	assert.Equal(t, "idx-1", got.RowID)
	assert.Equal(t, realtime.EventUpdate, got.Type)
}
