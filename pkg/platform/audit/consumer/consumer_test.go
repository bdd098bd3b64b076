package consumer

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objectmap/internal/platform/kafka/consumer"
	audit "objectmap/pkg/platform/audit"
	"objectmap/pkg/platform/audit/store/memory"
)

var discard = slog.New(slog.DiscardHandler)

const payload = `{"id":"e1","category":"compliance","timestamp":"2026-03-01T12:00:00Z","subject":"registry","action":"registry_frozen","actor_id":"admin","request_id":"req-1"}`

func TestEventHandlerAppendsDecodedEvent(t *testing.T) {
	sink := memory.NewInMemoryStore()
	h := NewEventHandler(sink, discard)

	require.NoError(t, h.Handle(context.Background(), &consumer.Message{Topic: "events", Value: []byte(payload)}))

	events, err := sink.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventRegistryFrozen), events[0].Action)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
	assert.Equal(t, "admin", events[0].ActorID)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), events[0].Timestamp)
}

func TestEventHandlerSkipsGarbage(t *testing.T) {
	sink := memory.NewInMemoryStore()
	h := NewEventHandler(sink, discard)

	require.NoError(t, h.Handle(context.Background(), &consumer.Message{Value: []byte("not json")}))
	require.NoError(t, h.Handle(context.Background(), &consumer.Message{Value: []byte(`{"timestamp":"2026-03-01T12:00:00Z"}`)}))

	events, err := sink.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
}

type failingSink struct{}

func (failingSink) Append(context.Context, audit.Event) error { return errors.New("disk full") }

func TestEventHandlerPropagatesSinkFailure(t *testing.T) {
	h := NewEventHandler(failingSink{}, discard)
	err := h.Handle(context.Background(), &consumer.Message{Value: []byte(payload), Headers: map[string]string{"event_id": "e1"}})
	assert.ErrorContains(t, err, "e1")
}

type countingHandler struct{ n int }

func (c *countingHandler) Handle(context.Context, *consumer.Message) error {
	c.n++
	return nil
}

func TestRouterDispatch(t *testing.T) {
	events := &countingHandler{}
	fallback := &countingHandler{}
	r := NewRouter(discard, fallback)
	r.Register("objectmap.registry.events", events)

	require.NoError(t, r.Handle(context.Background(), &consumer.Message{Topic: "objectmap.registry.events"}))
	require.NoError(t, r.Handle(context.Background(), &consumer.Message{Topic: "other"}))
	assert.Equal(t, 1, events.n)
	assert.Equal(t, 1, fallback.n)

	noFallback := NewRouter(discard, nil)
	assert.NoError(t, noFallback.Handle(context.Background(), &consumer.Message{Topic: "other"}))
}
