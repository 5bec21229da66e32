// Package turnqueue serializes turn processing per conversation.
//
// Turns for the same conversation must not interleave: the clarification
// state machine and the history cache both assume a strict order of
// reads and writes within one conversation. Turns for different
// conversations run concurrently.
package turnqueue

import (
	"context"
	"errors"
	"sync"
)

var ErrStopped = errors.New("turnqueue: stopped")

// Serializer runs submitted work in FIFO order per key. A worker
// goroutine is spawned for a key when its first turn arrives and exits
// once the key's queue drains.
type Serializer struct {
	mu      sync.Mutex
	queues  map[string][]func()
	stopped bool
	wg      sync.WaitGroup
}

func New() *Serializer {
	return &Serializer{queues: make(map[string][]func())}
}

// Do runs fn after all previously submitted work for key has finished,
// and blocks until fn returns. Returns fn's error, or the context error
// if ctx is canceled before fn starts, or ErrStopped after Stop.
func (s *Serializer) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	done := make(chan error, 1)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	wrapped := func() {
		if ctx.Err() != nil {
			done <- ctx.Err()
			return
		}
		done <- fn(ctx)
	}
	pending, active := s.queues[key]
	s.queues[key] = append(pending, wrapped)
	if !active {
		s.wg.Add(1)
		go s.drain(key)
	}
	s.mu.Unlock()

	return <-done
}

// drain runs the key's queue to exhaustion, then removes the key so the
// next submission starts a fresh worker.
func (s *Serializer) drain(key string) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		queue := s.queues[key]
		if len(queue) == 0 {
			delete(s.queues, key)
			s.mu.Unlock()
			return
		}
		next := queue[0]
		s.queues[key] = queue[1:]
		s.mu.Unlock()

		next()
	}
}

// Stop rejects new submissions and waits for all in-flight and queued
// work to finish.
func (s *Serializer) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.wg.Wait()
}

// Depth reports the number of queued (not yet started) turns for key.
func (s *Serializer) Depth(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[key])
}
