package shared

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleEvent struct {
	BaseDomainEvent
}

func newSampleEvent() *sampleEvent {
	return &sampleEvent{
		BaseDomainEvent: NewBaseDomainEvent("SampleEvent", "BatchRecord", uuid.New(), "nurse-7", time.Now()),
	}
}

func TestNewOutboxEntry(t *testing.T) {
	event := newSampleEvent()
	entry := NewOutboxEntry(event, []byte(`{}`), 0)

	assert.Equal(t, event.EventID(), entry.EventID)
	assert.Equal(t, "SampleEvent", entry.EventType)
	assert.Equal(t, "nurse-7", entry.Actor)
	assert.Equal(t, OutboxStatusPending, entry.Status)
	assert.Equal(t, DefaultMaxRetries, entry.MaxRetries)
}

func TestOutboxEntry_MarkFailed(t *testing.T) {
	t.Run("schedules retry with backoff", func(t *testing.T) {
		entry := NewOutboxEntry(newSampleEvent(), nil, 3)
		entry.MarkFailed("handler down")

		assert.Equal(t, OutboxStatusFailed, entry.Status)
		assert.Equal(t, 1, entry.RetryCount)
		require.NotNil(t, entry.NextRetryAt)
		assert.Equal(t, DefaultBaseBackoff, entry.NextRetryAt.Sub(entry.UpdatedAt))
		assert.True(t, entry.CanRetry())

		entry.MarkFailed("handler down")
		assert.Equal(t, 2*DefaultBaseBackoff, entry.NextRetryAt.Sub(entry.UpdatedAt))
	})

	t.Run("moves to dead after max retries", func(t *testing.T) {
		entry := NewOutboxEntry(newSampleEvent(), nil, 2)
		entry.MarkFailed("a")
		entry.MarkFailed("b")

		assert.True(t, entry.IsDead())
		assert.Nil(t, entry.NextRetryAt)
		assert.Equal(t, "b", entry.LastError)
		assert.False(t, entry.CanRetry())
	})
}

func TestOutboxEntry_StatusTransitions(t *testing.T) {
	entry := NewOutboxEntry(newSampleEvent(), nil, 1)
	require.NoError(t, entry.MarkProcessing())
	assert.Error(t, entry.MarkProcessing())

	entry.MarkSent()
	assert.Equal(t, OutboxStatusSent, entry.Status)
	assert.NotNil(t, entry.ProcessedAt)
	assert.Error(t, entry.ResetForRetry())

	dead := NewOutboxEntry(newSampleEvent(), nil, 1)
	dead.MarkFailed("boom")
	require.NoError(t, dead.ResetForRetry())
	assert.Equal(t, OutboxStatusPending, dead.Status)
	assert.Zero(t, dead.RetryCount)
}
