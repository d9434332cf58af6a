package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub1 := broker.Subscribe()
	sub2 := broker.Subscribe()
	assert.Equal(t, 2, broker.SubscriberCount())

	broker.PublishJob(EventJobCompleted, "job-1", "exit code 0")

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case event := <-sub:
			assert.Equal(t, EventJobCompleted, event.Type)
			assert.Equal(t, "job-1", event.JobID)
			assert.NotEmpty(t, event.ID)
			assert.False(t, event.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Unsubscribe(sub)
	assert.Equal(t, 0, broker.SubscriberCount())

	_, open := <-sub
	assert.False(t, open)
}

func TestFullSubscriberSkipped(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	slow := broker.Subscribe() // never drained

	// More events than the broker and subscriber buffers combined: the
	// publishes only complete if the full subscriber is being skipped.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			broker.PublishJob(EventJobSubmitted, "job-n", "")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	assert.Eventually(t, func() bool { return len(slow) == 50 },
		2*time.Second, 10*time.Millisecond)
}

func TestPublishAfterStopDoesNotBlock(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	broker.Stop()

	done := make(chan struct{})
	go func() {
		broker.PublishJob(EventJobFailed, "job-x", "late")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked after stop")
	}
}

func TestCallerFieldsPreserved(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	stamp := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	broker.Publish(&Event{
		ID:        "fixed-id",
		Type:      EventJobStarted,
		Timestamp: stamp,
		JobID:     "job-2",
		Metadata:  map[string]string{"resource": "gpu:0"},
	})

	select {
	case event := <-sub:
		require.NotNil(t, event)
		assert.Equal(t, "fixed-id", event.ID)
		assert.Equal(t, stamp, event.Timestamp)
		assert.Equal(t, "gpu:0", event.Metadata["resource"])
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}
}
