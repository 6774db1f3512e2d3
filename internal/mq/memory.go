package mq

import (
	"context"
	"sync"
)

// Memory is an in-process broker. Each channel is an unbounded queue; a
// message handed to a failing handler goes back to the end with its attempt
// count raised.
type Memory struct {
	mu     sync.Mutex
	queues map[string][]Message
	notify chan struct{}
	closed bool
}

func NewMemory() *Memory {
	return &Memory{queues: make(map[string][]Message), notify: make(chan struct{}, 1)}
}

func (m *Memory) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	id := newMessageID()
	if err := m.push(channel, Message{ID: id, Data: data, Attributes: attrs, Attempt: 1}); err != nil {
		return "", err
	}
	return id, nil
}

// Subscribe delivers queued and future messages on channel until ctx is done.
func (m *Memory) Subscribe(ctx context.Context, channel string, handler Handler) error {
	for {
		msg, ok := m.pop(channel)
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-m.notify:
				continue
			}
		}
		if err := handler(ctx, msg); err != nil {
			msg.Attempt++
			if err := m.push(channel, msg); err != nil {
				return err
			}
		}
	}
}

func (m *Memory) push(channel string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.queues[channel] = append(m.queues[channel], msg)
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

func (m *Memory) pop(channel string) (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.queues[channel]
	if len(queue) == 0 {
		return Message{}, false
	}
	m.queues[channel] = queue[1:]
	return queue[0], true
}

// Pending returns the messages waiting on channel.
func (m *Memory) Pending(channel string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.queues[channel]...)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
