package broker

import "time"

// ConsumerSession tracks one subscribed consumer's delivery state: its
// queue, qos mode, FireAndForget/Resume cursor, and at most one pending
// (fetched-but-not-yet-acked) message.
type ConsumerSession struct {
	ID         string
	Queue      string
	Qos        ConsumerQos
	AckTimeout time.Duration
	Cursor     int

	Pending  *Message
	Deadline time.Time
}

// NewConsumerSession creates an idle session subscribed to queue.
func NewConsumerSession(id, queue string, qos ConsumerQos, ackTimeout time.Duration) *ConsumerSession {
	if ackTimeout <= 0 {
		ackTimeout = 5 * time.Second
	}
	return &ConsumerSession{
		ID:         id,
		Queue:      queue,
		Qos:        qos,
		AckTimeout: ackTimeout,
	}
}

// AwaitingAck reports whether the session currently holds an unacked
// message.
func (s *ConsumerSession) AwaitingAck() bool {
	return s.Pending != nil
}

// SetPending transfers a fetched message into the session and arms its
// ack deadline.
func (s *ConsumerSession) SetPending(m Message, now time.Time) {
	msg := m
	s.Pending = &msg
	s.Deadline = now.Add(s.AckTimeout)
}

// Ack clears the pending message if its id matches. Returns true on
// match; on mismatch or no pending message it is a silent no-op, matching
// the broker's idempotent-retry ack semantics.
func (s *ConsumerSession) Ack(messageID string) bool {
	if s.Pending == nil || s.Pending.ID != messageID {
		return false
	}
	s.Pending = nil
	return true
}

// TakeExpiredPending clears and returns the pending message if its
// deadline has passed as of now, for the sweep to requeue it.
func (s *ConsumerSession) TakeExpiredPending(now time.Time) (Message, bool) {
	if s.Pending == nil || !now.After(s.Deadline) {
		return Message{}, false
	}
	msg := *s.Pending
	s.Pending = nil
	return msg, true
}

// SessionTable is the keyed set of active consumer sessions, keyed by the
// client identity frame presented on the transport.
type SessionTable struct {
	sessions map[string]*ConsumerSession
}

// NewSessionTable creates an empty table.
func NewSessionTable() *SessionTable {
	return &SessionTable{sessions: make(map[string]*ConsumerSession)}
}

// Subscribe creates or overwrites the session for identity.
func (t *SessionTable) Subscribe(identity string, s *ConsumerSession) {
	t.sessions[identity] = s
}

// Unsubscribe removes the session for identity, if any.
func (t *SessionTable) Unsubscribe(identity string) {
	delete(t.sessions, identity)
}

// Get returns the session for identity, if subscribed.
func (t *SessionTable) Get(identity string) (*ConsumerSession, bool) {
	s, ok := t.sessions[identity]
	return s, ok
}

// All returns every active session, for the sweep pass.
func (t *SessionTable) All() map[string]*ConsumerSession {
	return t.sessions
}
