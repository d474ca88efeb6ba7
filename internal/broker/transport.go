package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-zeromq/zmq4"
)

// wireRequest/wireResponse are the JSON bodies exchanged over both
// endpoints. Not every field is used by every action; the broker is lax
// about zero-valued fields it doesn't need for a given action, matching the
// permissive substring parsing the original broker used.
type wireRequest struct {
	Action     string `json:"action,omitempty"`
	Queue      string `json:"queue,omitempty"`
	Payload    string `json:"payload,omitempty"`
	Qos        string `json:"qos,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
	AckTimeout int64  `json:"ack_timeout_ms,omitempty"`
}

type wireResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id,omitempty"`
	Payload   string `json:"payload,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Transport binds the producer and consumer ROUTER sockets and feeds every
// received request into an Engine, writing back whatever reply (if any)
// the engine produces. Each socket's identity frame is ZeroMQ's own
// per-connection routing id, reused here as the broker's session key.
type Transport struct {
	engine *Engine

	producerEndpoint string
	consumerEndpoint string
}

// NewTransport builds a transport bound to engine; endpoints are ZeroMQ
// bind strings such as "tcp://*:5555".
func NewTransport(engine *Engine, producerEndpoint, consumerEndpoint string) *Transport {
	return &Transport{engine: engine, producerEndpoint: producerEndpoint, consumerEndpoint: consumerEndpoint}
}

// Run binds both sockets and serves requests until ctx is cancelled.
func (t *Transport) Run(ctx context.Context) error {
	producer := zmq4.NewRouter(ctx)
	defer producer.Close()
	if err := producer.Listen(t.producerEndpoint); err != nil {
		return fmt.Errorf("binding producer endpoint %q: %w", t.producerEndpoint, err)
	}

	consumer := zmq4.NewRouter(ctx)
	defer consumer.Close()
	if err := consumer.Listen(t.consumerEndpoint); err != nil {
		return fmt.Errorf("binding consumer endpoint %q: %w", t.consumerEndpoint, err)
	}

	errCh := make(chan error, 2)
	go t.serveProducer(ctx, producer, errCh)
	go t.serveConsumer(ctx, consumer, errCh)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (t *Transport) serveProducer(ctx context.Context, sock zmq4.Socket, errCh chan<- error) {
	for {
		msg, err := sock.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			errCh <- fmt.Errorf("producer recv: %w", err)
			return
		}

		identity, body := splitFrames(msg.Frames)
		var req wireRequest
		resp := wireResponse{Status: "error", Reason: "bad_request"}
		if json.Unmarshal(body, &req) == nil {
			resp = toWireResponse(t.engine.SubmitProducer(ProducerRequest{
				Identity: string(identity),
				Queue:    req.Queue,
				Payload:  []byte(req.Payload),
				Qos:      producerQosFrom(req.Qos),
			}))
		}
		sendReply(sock, identity, resp)
	}
}

func (t *Transport) serveConsumer(ctx context.Context, sock zmq4.Socket, errCh chan<- error) {
	for {
		msg, err := sock.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			errCh <- fmt.Errorf("consumer recv: %w", err)
			return
		}

		identity, body := splitFrames(msg.Frames)
		var req wireRequest
		if json.Unmarshal(body, &req) != nil {
			sendReply(sock, identity, wireResponse{Status: "error", Reason: "bad_request"})
			continue
		}

		creq := ConsumerRequest{
			Identity:  string(identity),
			Action:    ConsumerAction(req.Action),
			Queue:     req.Queue,
			Qos:       consumerQosFrom(req.Qos),
			MessageID: req.MessageID,
		}
		if req.AckTimeout > 0 {
			creq.AckTimeout = time.Duration(req.AckTimeout) * time.Millisecond
		}

		resp, ok := t.engine.SubmitConsumer(creq)
		if !ok {
			// A mismatched ack gets no reply at all, mirroring the broker
			// this was ported from.
			continue
		}
		sendReply(sock, identity, toWireResponseConsumer(resp))
	}
}

// splitFrames pulls the ZeroMQ identity frame off a ROUTER-delivered
// message and returns whatever's left as the request body, skipping the
// empty delimiter frame clients send between identity and payload.
func splitFrames(frames [][]byte) (identity, body []byte) {
	if len(frames) == 0 {
		return nil, nil
	}
	identity = frames[0]
	body = frames[len(frames)-1]
	return identity, body
}

func sendReply(sock zmq4.Socket, identity []byte, resp wireResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Error("marshalling reply failed", "err", err)
		return
	}
	msg := zmq4.NewMsgFrom(identity, []byte{}, data)
	if err := sock.Send(msg); err != nil {
		log.Error("sending reply failed", "err", err)
	}
}

func toWireResponse(r ProducerResponse) wireResponse {
	return wireResponse{Status: r.Status, MessageID: r.MessageID, Reason: r.Reason}
}

func toWireResponseConsumer(r ConsumerResponse) wireResponse {
	w := wireResponse{Status: r.Status, MessageID: r.MessageID, Reason: r.Reason}
	if r.Payload != nil {
		w.Payload = string(r.Payload)
	}
	if !r.Timestamp.IsZero() {
		w.Timestamp = r.Timestamp.UTC().Format(time.RFC3339)
	}
	return w
}

func producerQosFrom(s string) ProducerQos {
	if s == "require_ack" {
		return ProducerRequireAck
	}
	return ProducerFireAndForget
}

func consumerQosFrom(s string) ConsumerQos {
	switch s {
	case "require_ack":
		return ConsumerRequireAck
	case "resume":
		return ConsumerResume
	default:
		return ConsumerFireAndForget
	}
}
