package broker

import (
	"context"
	"time"

	"github.com/ChuLiYu/warehouse-broker/internal/metrics"
	"github.com/google/uuid"
)

// ProducerRequest is one parsed produce call.
type ProducerRequest struct {
	Identity string
	Queue    string
	Payload  []byte
	Qos      ProducerQos
}

// ProducerResponse is always sent back for a ProducerRequest.
type ProducerResponse struct {
	Status    string // "accepted" | "ok" | "error"
	MessageID string
	Reason    string
}

// ConsumerAction names one of the four consumer operations.
type ConsumerAction string

const (
	ActionSubscribe   ConsumerAction = "subscribe"
	ActionUnsubscribe ConsumerAction = "unsubscribe"
	ActionFetch       ConsumerAction = "fetch"
	ActionAck         ConsumerAction = "ack"
)

// ConsumerRequest is one parsed consumer call.
type ConsumerRequest struct {
	Identity   string
	Action     ConsumerAction
	Queue      string
	Qos        ConsumerQos
	AckTimeout time.Duration
	MessageID  string
}

// ConsumerResponse is sent back for every ConsumerRequest except a
// mismatched or missing ack, which the engine deliberately leaves
// unanswered (see handleAck).
type ConsumerResponse struct {
	Status    string // "subscribed"|"unsubscribed"|"ok"|"empty"|"acknowledged"|"error"
	MessageID string
	Payload   []byte
	Timestamp time.Time
	Reason    string
}

type producerEnvelope struct {
	req   ProducerRequest
	reply chan ProducerResponse
}

type consumerEnvelope struct {
	req   ConsumerRequest
	reply chan ConsumerResponse // closed without a value when the engine sends no response
}

// Engine is the broker's single-threaded event loop: the sole mutator of
// every queue and session, multiplexing producer and consumer requests
// over channels and invoking a sweep on a fixed interval. There is no lock
// hierarchy here because there is no second thread touching this state.
type Engine struct {
	queues        map[string]*QueueStore
	sessions      *SessionTable
	sweepInterval time.Duration

	producerCh chan producerEnvelope
	consumerCh chan consumerEnvelope

	metrics *metrics.BrokerCollector
}

// NewEngine builds an engine over the given queue configuration. storageRoot
// is used for any Disk queue's persistence directory.
func NewEngine(configs []QueueConfig, storageRoot string, sweepInterval time.Duration) (*Engine, error) {
	if len(configs) == 0 {
		return nil, ErrNoQueues
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Second
	}

	queues := make(map[string]*QueueStore, len(configs))
	for _, cfg := range configs {
		store, err := NewQueueStore(cfg, storageRoot)
		if err != nil {
			return nil, err
		}
		queues[cfg.Name] = store
	}

	return &Engine{
		queues:        queues,
		sessions:      NewSessionTable(),
		sweepInterval: sweepInterval,
		producerCh:    make(chan producerEnvelope),
		consumerCh:    make(chan consumerEnvelope),
	}, nil
}

// SetMetrics attaches a collector that the engine loop will report publish,
// fetch, ack, queue-depth, and sweep-duration activity into. Must be called
// before Run; nil disables recording. Safe to call from outside the loop
// since it only happens once, before Run starts reading it.
func (e *Engine) SetMetrics(m *metrics.BrokerCollector) {
	e.metrics = m
}

// SubmitProducer hands a request to the engine loop and blocks for its
// response. Used by transport.go; also usable directly in tests.
func (e *Engine) SubmitProducer(req ProducerRequest) ProducerResponse {
	reply := make(chan ProducerResponse, 1)
	e.producerCh <- producerEnvelope{req: req, reply: reply}
	return <-reply
}

// SubmitConsumer hands a request to the engine loop and blocks for its
// response. ok is false when the engine deliberately sends no reply (an
// ack that did not match the session's pending message).
func (e *Engine) SubmitConsumer(req ConsumerRequest) (ConsumerResponse, bool) {
	reply := make(chan ConsumerResponse, 1)
	e.consumerCh <- consumerEnvelope{req: req, reply: reply}
	resp, ok := <-reply
	return resp, ok
}

// Run drives the event loop until ctx is cancelled. It polls the producer
// and consumer channels with the sweep interval as an effective timeout,
// via the ticker case below, and performs one sweep per tick.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	log.Info("broker engine started", "queues", len(e.queues), "sweep_interval", e.sweepInterval)

	for {
		select {
		case <-ctx.Done():
			log.Info("broker engine stopping")
			return
		case env := <-e.producerCh:
			env.reply <- e.handleProducer(env.req)
		case env := <-e.consumerCh:
			if resp, ok := e.handleConsumer(env.req); ok {
				env.reply <- resp
			} else {
				close(env.reply)
			}
		case <-ticker.C:
			e.sweep(time.Now())
		}
	}
}

func (e *Engine) handleProducer(req ProducerRequest) ProducerResponse {
	if req.Queue == "" {
		return ProducerResponse{Status: "error", Reason: "missing queue"}
	}
	store, ok := e.queues[req.Queue]
	if !ok {
		return ProducerResponse{Status: "error", Reason: "unknown queue"}
	}

	msg := Message{
		ID:      uuid.NewString(),
		Payload: req.Payload,
		Created: time.Now(),
		TTL:     store.config.MessageTTL,
	}
	if err := store.Enqueue(msg); err != nil {
		log.Error("enqueue failed", "queue", req.Queue, "err", err)
		return ProducerResponse{Status: "error", Reason: "storage error"}
	}
	if e.metrics != nil {
		e.metrics.RecordPublish(req.Queue)
	}

	if req.Qos == ProducerRequireAck {
		return ProducerResponse{Status: "ok", MessageID: msg.ID}
	}
	return ProducerResponse{Status: "accepted"}
}

func (e *Engine) handleConsumer(req ConsumerRequest) (ConsumerResponse, bool) {
	switch req.Action {
	case ActionSubscribe:
		return e.handleSubscribe(req), true
	case ActionUnsubscribe:
		e.sessions.Unsubscribe(req.Identity)
		return ConsumerResponse{Status: "unsubscribed"}, true
	case ActionFetch:
		return e.handleFetch(req), true
	case ActionAck:
		return e.handleAck(req)
	default:
		return ConsumerResponse{Status: "error", Reason: "unknown action"}, true
	}
}

func (e *Engine) handleSubscribe(req ConsumerRequest) ConsumerResponse {
	if _, ok := e.queues[req.Queue]; !ok {
		return ConsumerResponse{Status: "error", Reason: "queue_not_found"}
	}
	e.sessions.Subscribe(req.Identity, NewConsumerSession(req.Identity, req.Queue, req.Qos, req.AckTimeout))
	return ConsumerResponse{Status: "subscribed"}
}

func (e *Engine) handleFetch(req ConsumerRequest) ConsumerResponse {
	session, ok := e.sessions.Get(req.Identity)
	if !ok {
		return ConsumerResponse{Status: "error", Reason: "not_subscribed"}
	}
	store, ok := e.queues[session.Queue]
	if !ok {
		return ConsumerResponse{Status: "error", Reason: "queue_not_found"}
	}

	if session.Qos == ConsumerFireAndForget {
		msg, ok := store.PeekAt(session.Cursor)
		if !ok || msg.Expired(time.Now()) {
			return ConsumerResponse{Status: "empty"}
		}
		session.Cursor++
		if e.metrics != nil {
			e.metrics.RecordFetch(session.Queue)
		}
		return ConsumerResponse{Status: "ok", MessageID: msg.ID, Payload: msg.Payload, Timestamp: msg.Created}
	}

	msg, ok, err := store.FetchForAck(time.Now())
	if err != nil {
		log.Error("fetch failed", "queue", session.Queue, "err", err)
		return ConsumerResponse{Status: "error", Reason: "storage error"}
	}
	if !ok {
		return ConsumerResponse{Status: "empty"}
	}
	session.SetPending(msg, time.Now())
	if e.metrics != nil {
		e.metrics.RecordFetch(session.Queue)
	}
	return ConsumerResponse{Status: "ok", MessageID: msg.ID, Payload: msg.Payload, Timestamp: msg.Created}
}

// handleAck only replies when the ack matches the session's pending
// message. On mismatch or no pending message it returns ok=false, which
// the caller must treat as "send no reply" — this is deliberate: acks are
// idempotent under retry, and a duplicate or stale ack must not disturb a
// pending message that is still waiting on its own deadline.
func (e *Engine) handleAck(req ConsumerRequest) (ConsumerResponse, bool) {
	session, ok := e.sessions.Get(req.Identity)
	if !ok {
		return ConsumerResponse{}, false
	}
	if !session.Ack(req.MessageID) {
		return ConsumerResponse{}, false
	}
	if e.metrics != nil {
		e.metrics.RecordAck(session.Queue)
	}
	return ConsumerResponse{Status: "acknowledged", MessageID: req.MessageID}, true
}

// sweep expires stale messages on every queue, then requeues any pending
// message whose ack deadline has passed.
func (e *Engine) sweep(now time.Time) {
	start := time.Now()

	for name, store := range e.queues {
		if err := store.CleanupExpired(now); err != nil {
			log.Error("cleanup failed", "queue", name, "err", err)
		}
		if e.metrics != nil {
			e.metrics.SetQueueDepth(name, store.Len())
		}
	}

	for _, session := range e.sessions.All() {
		msg, expired := session.TakeExpiredPending(now)
		if !expired {
			continue
		}
		store, ok := e.queues[session.Queue]
		if !ok {
			continue
		}
		if err := store.Requeue(msg); err != nil {
			log.Error("requeue failed", "queue", session.Queue, "err", err)
		}
	}

	if e.metrics != nil {
		e.metrics.ObserveSweepDuration(time.Since(start).Seconds())
	}
}
