package livefeed

import (
	"context"
	"io"
	"testing"
	"time"

	"pairs_trader/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.ErrorLevel, io.Discard)
}

func runHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestClientSendAfterClose(t *testing.T) {
	client := NewClient("c1")
	require.True(t, client.Send(Message{Type: "target_created"}))

	client.Close()
	assert.False(t, client.Send(Message{Type: "target_filled"}))

	// Close is idempotent.
	client.Close()
}

func TestHubBroadcastReachesAllSubscribers(t *testing.T) {
	hub := runHub(t)

	first := NewClient("first")
	second := NewClient("second")
	hub.Register(first)
	hub.Register(second)
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 2
	}, time.Second, 5*time.Millisecond)

	hub.Broadcast(Message{Type: "target_filled"})

	for _, client := range []*Client{first, second} {
		select {
		case msg := <-client.Receive():
			assert.Equal(t, "target_filled", msg.Type)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive broadcast")
		}
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := runHub(t)

	slow := NewClient("slow")
	hub.Register(slow)
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 5*time.Millisecond)

	// Never drain; once the buffer fills the hub drops the client. The
	// prober keeps broadcasting because the hub's own queue may shed
	// some of the initial burst.
	for i := 0; i < 300; i++ {
		hub.Broadcast(Message{Type: "target_partial_fill"})
	}
	require.Eventually(t, func() bool {
		hub.Broadcast(Message{Type: "target_partial_fill"})
		return hub.ClientCount() == 0
	}, 5*time.Second, time.Millisecond, "slow subscriber should be dropped")
}

func TestHubShutdownClosesSubscribers(t *testing.T) {
	hub := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	client := NewClient("c1")
	hub.Register(client)
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop on context cancel")
	}

	_, open := <-client.Receive()
	assert.False(t, open, "client channel should close on shutdown")
	assert.Zero(t, hub.ClientCount())
}
