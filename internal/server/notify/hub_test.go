package notify

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/taskgraph/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHub_BroadcastReachesOwnSubscribers(t *testing.T) {
	hub := NewHub(testLogger())

	events, cancel := hub.Subscribe("user-1", "")
	defer cancel()

	otherEvents, otherCancel := hub.Subscribe("user-2", "")
	defer otherCancel()

	hub.Broadcast("user-1", models.ChangeEvent{ProjectID: "proj-1", EventType: models.EventUpdate})

	select {
	case event := <-events:
		assert.Equal(t, "proj-1", event.ProjectID)
	default:
		t.Fatal("expected event for user-1")
	}

	// Событие чужого пользователя не доставляется
	select {
	case <-otherEvents:
		t.Fatal("user-2 must not receive user-1 events")
	default:
	}
}

func TestHub_ProjectFilter(t *testing.T) {
	hub := NewHub(testLogger())

	filtered, cancel := hub.Subscribe("user-1", "proj-1")
	defer cancel()

	hub.Broadcast("user-1", models.ChangeEvent{ProjectID: "proj-2"})
	select {
	case <-filtered:
		t.Fatal("event for another project must be filtered out")
	default:
	}

	hub.Broadcast("user-1", models.ChangeEvent{ProjectID: "proj-1"})
	select {
	case event := <-filtered:
		assert.Equal(t, "proj-1", event.ProjectID)
	default:
		t.Fatal("expected event for subscribed project")
	}
}

func TestHub_CancelClosesChannel(t *testing.T) {
	hub := NewHub(testLogger())

	events, cancel := hub.Subscribe("user-1", "")
	require.Equal(t, 1, hub.SubscriberCount())

	cancel()
	assert.Zero(t, hub.SubscriberCount())

	_, open := <-events
	assert.False(t, open)

	// Повторный cancel безопасен
	cancel()
}

func TestHub_SlowSubscriberDropsEvents(t *testing.T) {
	hub := NewHub(testLogger())

	events, cancel := hub.Subscribe("user-1", "")
	defer cancel()

	// Переполнение буфера не блокирует Broadcast
	for i := 0; i < subscriberBuffer+10; i++ {
		hub.Broadcast("user-1", models.ChangeEvent{ProjectID: "proj-1"})
	}

	assert.Len(t, events, subscriberBuffer)
}
