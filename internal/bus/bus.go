package bus

import (
	"context"
	"sync"
)

// A broadcasting signal bus. It always cleans up after itself: a topic
// only holds the waiters that are currently blocked on it, and emitting
// to a topic nobody waits on is a no-op.
type SignalBus[K comparable, T any] struct {
	channels map[K][]chan T
	lock     sync.Mutex
}

func NewSignalBus[K comparable, T any]() *SignalBus[K, T] {
	return &SignalBus[K, T]{
		channels: make(map[K][]chan T),
	}
}

// Emit a message to everyone currently waiting on the topic.
func (s *SignalBus[K, T]) Emit(topic K, message T) {
	channels := func() []chan T {
		s.lock.Lock()
		defer s.lock.Unlock()

		if channels, ok := s.channels[topic]; ok {
			delete(s.channels, topic)
			return channels
		}
		return nil
	}()

	// Every channel has room for exactly one message, so this never blocks
	// on a waiter that has not started receiving yet.
	for _, channel := range channels {
		channel <- message
		close(channel)
	}
}

// Wait for a message on the topic. Returns the message and a bool
// flag that indicates if the wait was aborted. This usually happens
// when the topic is being cleaned up.
func (s *SignalBus[K, T]) Wait(topic K) (T, bool) {
	return s.WaitContext(context.Background(), topic)
}

// Like Wait, but also gives up once the context is done.
func (s *SignalBus[K, T]) WaitContext(ctx context.Context, topic K) (T, bool) {
	channel := s.subscribe(topic)

	select {
	case value, ok := <-channel:
		if ok {
			return value, false
		}

	case <-ctx.Done():
		s.unsubscribe(topic, channel)
	}

	var zero T
	return zero, true
}

// Subscribe to the topic ahead of time, so a message emitted before the
// caller gets around to receiving is still delivered. The returned func
// ends the subscription and may be called after the message arrived.
func (s *SignalBus[K, T]) Subscribe(topic K) (<-chan T, func()) {
	channel := s.subscribe(topic)
	return channel, func() {
		s.unsubscribe(topic, channel)
	}
}

// Clean up a topic on the bus. All pending waits will resolve
// with a done flag.
func (s *SignalBus[K, T]) CleanUp(topic K) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if channels, ok := s.channels[topic]; ok {
		for _, channel := range channels {
			close(channel)
		}
		delete(s.channels, topic)
	}
}

// The number of waiters currently blocked on the topic.
func (s *SignalBus[K, T]) Waiting(topic K) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.channels[topic])
}

func (s *SignalBus[K, T]) subscribe(topic K) chan T {
	channel := make(chan T, 1)

	s.lock.Lock()
	defer s.lock.Unlock()
	s.channels[topic] = append(s.channels[topic], channel)

	return channel
}

func (s *SignalBus[K, T]) unsubscribe(topic K, channel chan T) {
	s.lock.Lock()
	defer s.lock.Unlock()

	channels := s.channels[topic]
	for index, candidate := range channels {
		if candidate == channel {
			channels = append(channels[:index], channels[index+1:]...)
			break
		}
	}

	if len(channels) == 0 {
		delete(s.channels, topic)
	} else {
		s.channels[topic] = channels
	}
}
