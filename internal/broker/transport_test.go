package broker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests exercise the same concurrent-access pattern transport.go's
// serveProducer/serveConsumer goroutines create once they are bound to real
// sockets: multiple goroutines calling SubmitProducer/SubmitConsumer against
// one running engine at the same time. They prove the channel handoff keeps
// the engine loop the sole mutator of queues and sessions — run with -race
// to catch any regression back to calling handleProducer/handleConsumer
// directly from those goroutines.
func TestTransportConcurrentProducerSubmissionsAreSerialized(t *testing.T) {
	engine, err := NewEngine([]QueueConfig{{Name: "Q", Order: OrderFIFO}}, t.TempDir(), time.Hour)
	require.NoError(t, err)
	go engine.Run(contextWithCancel(t))

	const producers = 20
	var wg sync.WaitGroup
	wg.Add(producers)
	for i := 0; i < producers; i++ {
		go func() {
			defer wg.Done()
			resp := engine.SubmitProducer(ProducerRequest{Queue: "Q", Payload: []byte("x")})
			assert.Equal(t, "accepted", resp.Status)
		}()
	}
	wg.Wait()

	store := engine.queues["Q"]
	assert.Equal(t, producers, store.Len(), "every concurrent submission must be enqueued exactly once")
}

func TestTransportConcurrentProducerAndConsumerSubmissions(t *testing.T) {
	engine, err := NewEngine([]QueueConfig{{Name: "Q", Order: OrderFIFO}}, t.TempDir(), 20*time.Millisecond)
	require.NoError(t, err)
	go engine.Run(contextWithCancel(t))

	const messages = 30
	var produceWG sync.WaitGroup
	produceWG.Add(messages)
	for i := 0; i < messages; i++ {
		go func() {
			defer produceWG.Done()
			engine.SubmitProducer(ProducerRequest{Queue: "Q", Payload: []byte("x")})
		}()
	}
	produceWG.Wait()

	sub, _ := engine.SubmitConsumer(consumerReq("c1", ActionSubscribe, "Q", ConsumerRequireAck))
	require.Equal(t, "subscribed", sub.Status)

	seen := 0
	deadline := time.Now().Add(time.Second)
	for seen < messages && time.Now().Before(deadline) {
		fetched, _ := engine.SubmitConsumer(consumerReq("c1", ActionFetch, "Q", ConsumerRequireAck))
		if fetched.Status != "ok" {
			continue
		}
		seen++
		ackReq := consumerReq("c1", ActionAck, "Q", ConsumerRequireAck)
		ackReq.MessageID = fetched.MessageID
		engine.SubmitConsumer(ackReq)
	}
	assert.Equal(t, messages, seen, "every produced message must eventually be fetched exactly once")
}
