package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samcharles93/actkernel/internal/logger"
)

type command struct {
	name string
	fn   func() error
	// barrier commands run even after the stream has failed.
	barrier bool
}

// Stream executes enqueued work one op at a time in enqueue order.
//
// The first failing op makes the stream sticky: later ops are skipped, and
// Synchronize reports that first error. Events and synchronization markers
// still complete so waiters are released.
type Stream struct {
	dev *Device
	id  int
	log logger.Logger

	mu      sync.Mutex
	queue   []command
	closed  bool
	err     error
	pending int

	wake chan struct{}
	done chan struct{}
}

// NewStream starts a stream on d.
func (d *Device) NewStream() *Stream {
	d.streamMu.Lock()
	d.nextStream++
	id := d.nextStream
	d.streamMu.Unlock()

	s := &Stream{
		dev:  d,
		id:   id,
		log:  d.log.With("stream", id),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Stream) Device() *Device { return s.dev }

func (s *Stream) String() string {
	return fmt.Sprintf("%s/stream%d", s.dev, s.id)
}

// Enqueue schedules fn. It only fails when the stream is closed; execution
// errors surface through Synchronize and Err.
func (s *Stream) Enqueue(name string, fn func() error) error {
	return s.push(command{name: name, fn: fn})
}

func (s *Stream) push(c command) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("enqueue %s on %s: %w", c.name, s, ErrStreamClosed)
	}
	s.queue = append(s.queue, c)
	s.pending++
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Synchronize blocks until everything enqueued before the call has run, then
// returns the stream's sticky error. If ctx ends first its error is returned
// and the queued work keeps running.
func (s *Stream) Synchronize(ctx context.Context) error {
	marker := make(chan struct{})
	err := s.push(command{name: "synchronize", barrier: true, fn: func() error {
		close(marker)
		return nil
	}})
	if err != nil {
		// A closed stream has drained; report whatever it ended with.
		if serr := s.Err(); serr != nil {
			return serr
		}
		return err
	}
	select {
	case <-marker:
		return s.Err()
	case <-ctx.Done():
		return fmt.Errorf("synchronize %s: %w", s, ctx.Err())
	}
}

// Err returns the first execution failure, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Pending is the number of ops enqueued but not yet finished.
func (s *Stream) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Record enqueues an event that captures the time at which all previously
// enqueued work finished.
func (s *Stream) Record() (*Event, error) {
	ev := &Event{done: make(chan struct{})}
	err := s.push(command{name: "record", barrier: true, fn: func() error {
		ev.at = time.Now()
		close(ev.done)
		return nil
	}})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// Close stops accepting work, drains the queue and stops the stream
// goroutine.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	<-s.done
	return nil
}

func (s *Stream) loop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			<-s.wake
			continue
		}
		c := s.queue[0]
		s.queue[0] = command{}
		s.queue = s.queue[1:]
		skip := s.err != nil && !c.barrier
		s.mu.Unlock()

		var err error
		if !skip {
			err = s.run(c)
		}

		s.mu.Lock()
		s.pending--
		if err != nil && s.err == nil {
			s.err = err
		}
		s.mu.Unlock()

		if err != nil {
			s.log.Warn("op failed", "op", c.name, "error", err)
		} else if skip {
			s.log.Debug("op skipped after earlier failure", "op", c.name)
		}
	}
}

func (s *Stream) run(c command) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = executionError(c.name, rec)
		}
	}()
	if err := c.fn(); err != nil {
		return &Error{Op: c.name, Err: err}
	}
	return nil
}

// Event marks a point in a stream's execution order.
type Event struct {
	done chan struct{}
	at   time.Time
}

// Recorded reports whether the stream has reached the event.
func (e *Event) Recorded() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the event is reached or ctx ends.
func (e *Event) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Elapsed returns the time between e and a later event end.
func (e *Event) Elapsed(end *Event) (time.Duration, error) {
	if !e.Recorded() || !end.Recorded() {
		return 0, ErrEventNotReady
	}
	return end.at.Sub(e.at), nil
}
