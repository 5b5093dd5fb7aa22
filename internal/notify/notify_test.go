package notify

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"homeapi/internal/logging"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub(t *testing.T) {
	hub := NewHub()
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()

	events, cancel, err := hub.Subscribe(ctx)
	require.NoError(t, err)

	ev := Event{Checksum: 1619031250, Length: 8, Bytes: 8}
	require.NoError(t, hub.Publish(ctx, ev))

	select {
	case got := <-events:
		assert.Equal(t, ev, got)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	_, ok := <-events
	assert.False(t, ok, "channel closed after cancel")

	// Publishing with no subscribers is fine.
	assert.NoError(t, hub.Publish(ctx, ev))
}

func TestHub_SubscriptionEndsWithContext(t *testing.T) {
	hub := NewHub()
	ctx, cancelCtx := context.WithCancel(context.Background())

	events, _, err := hub.Subscribe(ctx)
	require.NoError(t, err)
	cancelCtx()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, Event) error { return f.err }

func TestMulti(t *testing.T) {
	boom := errors.New("boom")
	hub := NewHub()
	events, cancel, err := hub.Subscribe(context.Background())
	require.NoError(t, err)
	defer cancel()

	m := Multi{failingPublisher{boom}, hub}
	err = m.Publish(context.Background(), Event{Length: 1})
	assert.ErrorIs(t, err, boom)

	// Later publishers still run after an earlier failure.
	select {
	case got := <-events:
		assert.Equal(t, 1, got.Length)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	assert.NoError(t, Nop{}.Publish(context.Background(), Event{}))
}

func TestRelay(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(NewRelay(hub, logging.Nop()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	ev := Event{Checksum: 42, Length: 3, Bytes: 3, Commit: "abc123"}

	// The subscription is registered asynchronously after the upgrade, so
	// keep publishing until the client sees the event.
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				hub.Publish(context.Background(), ev)
			}
		}
	}()
	defer close(done)

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	require.NoError(t, ws.ReadJSON(&got))
	assert.Equal(t, uint32(42), got.Checksum)
	assert.Equal(t, "abc123", got.Commit)
}
