package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumerSessionAckMismatchLeavesPendingUntouched(t *testing.T) {
	s := NewConsumerSession("c1", "q", ConsumerRequireAck, 0)
	s.SetPending(Message{ID: "m1"}, time.Now())

	assert.False(t, s.Ack("wrong-id"))
	require.True(t, s.AwaitingAck())
	assert.Equal(t, "m1", s.Pending.ID)
}

func TestConsumerSessionAckMatchClearsPending(t *testing.T) {
	s := NewConsumerSession("c1", "q", ConsumerRequireAck, 0)
	s.SetPending(Message{ID: "m1"}, time.Now())

	assert.True(t, s.Ack("m1"))
	assert.False(t, s.AwaitingAck())
}

func TestConsumerSessionDoubleAckIsNoOp(t *testing.T) {
	s := NewConsumerSession("c1", "q", ConsumerRequireAck, 0)
	s.SetPending(Message{ID: "m1"}, time.Now())

	require.True(t, s.Ack("m1"))
	assert.False(t, s.Ack("m1"), "acking an already-acked id must be a no-op")
}

func TestConsumerSessionTakeExpiredPendingRespectsDeadline(t *testing.T) {
	s := NewConsumerSession("c1", "q", ConsumerRequireAck, 50*time.Millisecond)
	now := time.Now()
	s.SetPending(Message{ID: "m1"}, now)

	_, expired := s.TakeExpiredPending(now)
	assert.False(t, expired, "must not expire before the deadline")

	_, expired = s.TakeExpiredPending(now.Add(100 * time.Millisecond))
	assert.True(t, expired)
	assert.False(t, s.AwaitingAck())
}

func TestSessionTableSubscribeUnsubscribe(t *testing.T) {
	table := NewSessionTable()
	table.Subscribe("c1", NewConsumerSession("c1", "q", ConsumerFireAndForget, 0))

	_, ok := table.Get("c1")
	require.True(t, ok)

	table.Unsubscribe("c1")
	_, ok = table.Get("c1")
	assert.False(t, ok)
}
