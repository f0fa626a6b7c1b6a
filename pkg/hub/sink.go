package hub

import (
	"errors"
	"sync"
)

var (
	// ErrSinkClosed is returned when sending on a closed sink.
	ErrSinkClosed = errors.New("hub: sink closed")

	// ErrSlowConsumer is returned when a sink's buffer is full. The hub
	// treats it like any other write failure and drops the connection
	// rather than block the publisher.
	ErrSlowConsumer = errors.New("hub: slow consumer")
)

// ChannelSink backs a connection with an in-process buffered channel. The
// transport handler (or a test) drains Events; Send never blocks.
type ChannelSink struct {
	ch chan Event

	mu     sync.Mutex
	closed bool
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 128
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Send enqueues the event without blocking. A full buffer is a write
// failure.
func (s *ChannelSink) Send(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.ch <- event:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Events returns the receive side. It is closed when the sink closes.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Close makes further sends fail and closes the event channel.
func (s *ChannelSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)
	return nil
}
