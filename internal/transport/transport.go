// Package transport moves encoded messages between nodes over ZeroMQ.
// Every message is two frames: the topic name, then the payload.
package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pebbe/zmq4"
)

// Topic names shared by all camnode deployments.
const (
	TopicImage   = "image"
	TopicMeta    = "meta"
	TopicControl = "control"
)

// Publisher binds a PUB socket. Publish never blocks the acquisition
// path: when a subscriber's queue is full the message is dropped and
// counted instead.
type Publisher struct {
	mu     sync.Mutex
	socket *zmq4.Socket
	drops  atomic.Uint64
	sent   atomic.Uint64
}

func NewPublisher(endpoint string) (*Publisher, error) {
	socket, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, err
	}
	if err := socket.Bind(endpoint); err != nil {
		_ = socket.Close()
		return nil, err
	}
	return &Publisher{socket: socket}, nil
}

func (p *Publisher) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.socket.SendBytes([]byte(topic), zmq4.SNDMORE|zmq4.DONTWAIT); err != nil {
		p.drops.Add(1)
		return err
	}
	if _, err := p.socket.SendBytes(payload, zmq4.DONTWAIT); err != nil {
		p.drops.Add(1)
		return err
	}
	p.sent.Add(1)
	return nil
}

func (p *Publisher) Sent() uint64  { return p.sent.Load() }
func (p *Publisher) Drops() uint64 { return p.drops.Load() }

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.socket.Close()
}

// Subscribe connects a SUB socket with a topic filter and yields payloads
// until the context is cancelled. The receive loop polls with a timeout so
// cancellation is noticed without a pending message.
func Subscribe(ctx context.Context, endpoint, topic string) (<-chan []byte, error) {
	socket, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		return nil, err
	}
	if err := socket.Connect(endpoint); err != nil {
		_ = socket.Close()
		return nil, err
	}
	if err := socket.SetSubscribe(topic); err != nil {
		_ = socket.Close()
		return nil, err
	}
	if err := socket.SetRcvtimeo(500 * time.Millisecond); err != nil {
		_ = socket.Close()
		return nil, err
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer socket.Close()

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			parts, err := socket.RecvMessageBytes(0)
			if err != nil {
				// Includes the receive timeout; loop back to the ctx check.
				continue
			}
			if len(parts) != 2 || string(parts[0]) != topic {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case out <- parts[1]:
			}
		}
	}()

	return out, nil
}
