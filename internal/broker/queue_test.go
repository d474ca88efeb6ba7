package broker

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueStoreFIFORoundTrip(t *testing.T) {
	store, err := NewQueueStore(QueueConfig{Name: "q", Order: OrderFIFO}, t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Enqueue(Message{ID: "a", Payload: []byte("A"), Created: time.Now()}))
	require.NoError(t, store.Enqueue(Message{ID: "b", Payload: []byte("B"), Created: time.Now()}))
	require.NoError(t, store.Enqueue(Message{ID: "c", Payload: []byte("C"), Created: time.Now()}))

	for _, want := range []string{"a", "b", "c"} {
		msg, ok, err := store.FetchForAck(time.Now())
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, msg.ID)
	}

	_, ok, err := store.FetchForAck(time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueueStoreRequeueReturnsSameMessage(t *testing.T) {
	store, err := NewQueueStore(QueueConfig{Name: "q", Order: OrderFIFO}, t.TempDir())
	require.NoError(t, err)

	msg := Message{ID: "m", Payload: []byte("M"), Created: time.Now()}
	require.NoError(t, store.Enqueue(msg))

	fetched, ok, err := store.FetchForAck(time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.Requeue(fetched))

	again, ok, err := store.FetchForAck(time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, msg.ID, again.ID)
}

func TestQueueStoreCleanupExpiredIsIdempotent(t *testing.T) {
	store, err := NewQueueStore(QueueConfig{Name: "q", Order: OrderFIFO}, t.TempDir())
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, store.Enqueue(Message{ID: "x", Payload: []byte("X"), Created: past, TTL: time.Second}))

	require.NoError(t, store.CleanupExpired(time.Now()))
	assert.Equal(t, 0, store.Len())
	require.NoError(t, store.CleanupExpired(time.Now()))
	assert.Equal(t, 0, store.Len())
}

func TestQueueStoreTTLExpiryScenario(t *testing.T) {
	store, err := NewQueueStore(QueueConfig{Name: "q", Order: OrderFIFO, MessageTTL: 50 * time.Millisecond}, t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Enqueue(Message{ID: "x", Payload: []byte("X"), Created: time.Now(), TTL: 50 * time.Millisecond}))

	time.Sleep(80 * time.Millisecond)
	_, ok, err := store.FetchForAck(time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "expired message must never be returned by FetchForAck")
}

func TestQueueStoreUnorderedFetchDrainsAllMessages(t *testing.T) {
	store, err := NewQueueStore(QueueConfig{Name: "q", Order: OrderUnordered}, t.TempDir())
	require.NoError(t, err)

	ids := map[string]bool{"a": true, "b": true, "c": true}
	for id := range ids {
		require.NoError(t, store.Enqueue(Message{ID: id, Payload: []byte(id), Created: time.Now()}))
	}

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		msg, ok, err := store.FetchForAck(time.Now())
		require.NoError(t, err)
		require.True(t, ok)
		seen[msg.ID] = true
	}
	assert.Equal(t, ids, seen)
}

func TestQueueStoreSortedFallsBackToCreatedWithoutAttribute(t *testing.T) {
	store, err := NewQueueStore(QueueConfig{Name: "q", Order: OrderSorted, SortKey: "priority"}, t.TempDir())
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, store.Enqueue(Message{ID: "late", Payload: []byte("L"), Created: now.Add(time.Minute)}))
	require.NoError(t, store.Enqueue(Message{ID: "early", Payload: []byte("E"), Created: now}))

	first, ok, err := store.FetchForAck(time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "early", first.ID)
}

func TestQueueStoreSortedByAttributeWhenPresent(t *testing.T) {
	store, err := NewQueueStore(QueueConfig{Name: "q", Order: OrderSorted, SortKey: "priority"}, t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Enqueue(Message{ID: "z", Created: time.Now(), Attributes: map[string]string{"priority": "9"}}))
	require.NoError(t, store.Enqueue(Message{ID: "a", Created: time.Now(), Attributes: map[string]string{"priority": "1"}}))

	first, ok, err := store.FetchForAck(time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", first.ID)
}

func TestQueueStoreDiskPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := QueueConfig{Name: "durable", Order: OrderFIFO, Durability: DurabilityDisk}

	store, err := NewQueueStore(cfg, dir)
	require.NoError(t, err)
	created := time.Now().Add(-5 * time.Minute).Truncate(time.Millisecond)
	require.NoError(t, store.Enqueue(Message{ID: "m1", Payload: []byte("persisted"), Created: created, Attributes: map[string]string{"k": "v"}}))

	_, err = os.Stat(dir + "/durable/messages.json")
	require.NoError(t, err)

	reloaded, err := NewQueueStore(cfg, dir)
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.Len())

	snap := reloaded.Snapshot()
	assert.Equal(t, "m1", snap[0].ID)
	assert.Equal(t, []byte("persisted"), snap[0].Payload)
	assert.WithinDuration(t, created, snap[0].Created, time.Millisecond, "created time should round-trip honestly, not reset to now")
	assert.Equal(t, "v", snap[0].Attributes["k"])
}

func TestLoadConfigRejectsEmptyQueues(t *testing.T) {
	_, err := LoadConfig([]byte("producer_endpoint: tcp://*:5555\n"))
	require.ErrorIs(t, err, ErrNoQueues)
}

func TestLoadConfigRejectsMissingQueueName(t *testing.T) {
	_, err := LoadConfig([]byte("queues:\n  - durability: memory\n"))
	require.ErrorIs(t, err, ErrQueueNameMissing)
}

func TestLoadConfigAppliesDefaultsAndConvertsEnums(t *testing.T) {
	cfg, err := LoadConfig([]byte(`
queues:
  - name: orders
    durability: disk
    order: sorted
    sort_key: priority
    message_ttl: 30
`))
	require.NoError(t, err)
	assert.Equal(t, "tcp://*:5555", cfg.ProducerEndpoint)
	assert.Equal(t, "tcp://*:5556", cfg.ConsumerEndpoint)
	assert.Equal(t, "./data", cfg.StorageRoot)
	assert.Equal(t, time.Second, cfg.SweepInterval)

	require.Len(t, cfg.Queues, 1)
	q := cfg.Queues[0]
	assert.Equal(t, "orders", q.Name)
	assert.Equal(t, DurabilityDisk, q.Durability)
	assert.Equal(t, OrderSorted, q.Order)
	assert.Equal(t, "priority", q.SortKey)
	assert.Equal(t, 30*time.Second, q.MessageTTL)
}

func TestNewEngineRejectsEmptyConfig(t *testing.T) {
	_, err := NewEngine(nil, t.TempDir(), time.Second)
	require.ErrorIs(t, err, ErrNoQueues)
}

func TestQueueStorePersistedContentsMatchInMemoryBuffer(t *testing.T) {
	dir := t.TempDir()
	cfg := QueueConfig{Name: "durable", Order: OrderFIFO, Durability: DurabilityDisk}

	store, err := NewQueueStore(cfg, dir)
	require.NoError(t, err)
	require.NoError(t, store.Enqueue(Message{ID: "a", Payload: []byte("A"), Created: time.Now()}))
	require.NoError(t, store.Enqueue(Message{ID: "b", Payload: []byte("B"), Created: time.Now()}))

	reloaded, err := NewQueueStore(cfg, dir)
	require.NoError(t, err)
	assert.Equal(t, store.Snapshot()[0].ID, reloaded.Snapshot()[0].ID)
	assert.Equal(t, store.Snapshot()[1].ID, reloaded.Snapshot()[1].ID)
}
