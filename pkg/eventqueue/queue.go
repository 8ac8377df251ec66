// Package eventqueue implements the write-behind queue that feeds a disk
// tier: an unbounded FIFO of tasks consumed by a single goroutine.
//
// Tasks are applied strictly in submission order. A listener error is
// never retried: the failure is logged and the queue is destroyed, after
// which every Add returns ErrDestroyed.
package eventqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/dittocache/internal/logger"
)

// ErrDestroyed is returned when adding to a queue that has been torn down.
var ErrDestroyed = errors.New("eventqueue: destroyed")

// Kind identifies the task variant.
type Kind uint8

const (
	KindPut Kind = iota
	KindRemove
	KindRemoveAll
	KindDispose
)

func (k Kind) String() string {
	switch k {
	case KindPut:
		return "put"
	case KindRemove:
		return "remove"
	case KindRemoveAll:
		return "remove_all"
	case KindDispose:
		return "dispose"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Task is one queued event. Element is set for KindPut, Key for KindRemove.
type Task[E any] struct {
	Kind    Kind
	Element E
	Key     string
}

// Listener applies tasks. Methods are called from the queue goroutine only,
// one at a time. The context is cancelled when the queue is destroyed.
type Listener[E any] interface {
	HandlePut(ctx context.Context, elem E) error
	HandleRemove(ctx context.Context, key string) error
	HandleRemoveAll(ctx context.Context) error
	HandleDispose(ctx context.Context) error
}

// TaskObserver is notified after every task the listener handled.
type TaskObserver func(kind Kind, took time.Duration, err error)

// Option configures a Queue.
type Option func(*options)

type options struct {
	observer TaskObserver
}

// WithTaskObserver registers a callback run after each task.
func WithTaskObserver(fn TaskObserver) Option {
	return func(o *options) { o.observer = fn }
}

// Queue is a single-consumer FIFO of tasks.
type Queue[E any] struct {
	id       uuid.UUID
	name     string
	listener Listener[E]
	observer TaskObserver

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	pending   []Task[E]
	destroyed bool
	empty     chan struct{} // closed while nothing is pending or running
	isEmpty   bool

	signal chan struct{} // capacity 1, wakes the worker
	done   chan struct{} // closed when the worker exits

	processed atomic.Uint64
	failed    atomic.Uint64
}

// New creates a queue and starts its worker.
func New[E any](name string, l Listener[E], opts ...Option) *Queue[E] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	empty := make(chan struct{})
	close(empty)

	q := &Queue[E]{
		id:       uuid.New(),
		name:     name,
		listener: l,
		observer: o.observer,
		ctx:      ctx,
		cancel:   cancel,
		empty:    empty,
		isEmpty:  true,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	go q.run()

	logger.Debug("Event queue started",
		logger.KeyQueueName, name,
		logger.KeyQueueID, q.id.String())
	return q
}

// ID returns the queue's unique identifier.
func (q *Queue[E]) ID() uuid.UUID { return q.id }

// Name returns the name given at construction.
func (q *Queue[E]) Name() string { return q.name }

// AddPut queues a put of elem.
func (q *Queue[E]) AddPut(elem E) error {
	return q.add(Task[E]{Kind: KindPut, Element: elem})
}

// AddRemove queues a remove of key.
func (q *Queue[E]) AddRemove(key string) error {
	return q.add(Task[E]{Kind: KindRemove, Key: key})
}

// AddRemoveAll queues a remove-all.
func (q *Queue[E]) AddRemoveAll() error {
	return q.add(Task[E]{Kind: KindRemoveAll})
}

// AddDispose queues a dispose. Once it has been handled the queue destroys
// itself.
func (q *Queue[E]) AddDispose() error {
	return q.add(Task[E]{Kind: KindDispose})
}

func (q *Queue[E]) add(t Task[E]) error {
	q.mu.Lock()
	if q.destroyed {
		q.mu.Unlock()
		return ErrDestroyed
	}
	q.pending = append(q.pending, t)
	if q.isEmpty {
		q.empty = make(chan struct{})
		q.isEmpty = false
	}
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Size returns the number of tasks not yet started.
func (q *Queue[E]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// IsEmpty reports whether no task is pending or running.
func (q *Queue[E]) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isEmpty
}

// IsAlive reports whether the queue still accepts tasks.
func (q *Queue[E]) IsAlive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.destroyed
}

// WaitEmpty blocks until every queued task has been handled, the queue is
// destroyed or ctx is done.
func (q *Queue[E]) WaitEmpty(ctx context.Context) error {
	q.mu.Lock()
	empty := q.empty
	q.mu.Unlock()

	select {
	case <-empty:
		return nil
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Destroy stops the worker and discards pending tasks. It waits for a task
// already running to return. Safe to call more than once, but never from
// a Listener method.
func (q *Queue[E]) Destroy() {
	q.destroy("destroyed")
	<-q.done
}

// DestroyContext is Destroy with the wait for a running task bounded by
// ctx. On timeout it returns ctx.Err(); the worker still exits once the
// task returns.
func (q *Queue[E]) DestroyContext(ctx context.Context) error {
	q.destroy("destroyed")
	select {
	case <-q.done:
		return nil
	default:
	}
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue[E]) destroy(reason string) {
	q.mu.Lock()
	if q.destroyed {
		q.mu.Unlock()
		return
	}
	q.destroyed = true
	dropped := len(q.pending)
	q.pending = nil
	q.mu.Unlock()

	q.cancel()

	if dropped > 0 {
		logger.Warn("Event queue destroyed with pending tasks",
			logger.KeyQueueName, q.name,
			logger.KeyQueueID, q.id.String(),
			logger.KeyQueueSize, dropped,
			"reason", reason)
	} else {
		logger.Debug("Event queue destroyed",
			logger.KeyQueueName, q.name,
			logger.KeyQueueID, q.id.String(),
			"reason", reason)
	}
}

// run is the consumer loop.
func (q *Queue[E]) run() {
	defer func() {
		q.mu.Lock()
		if !q.isEmpty {
			close(q.empty)
			q.isEmpty = true
		}
		q.mu.Unlock()
		close(q.done)
	}()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.signal:
		}

		for {
			t, ok := q.next()
			if !ok {
				break
			}

			err := q.dispatch(t)
			if err != nil {
				q.failed.Add(1)
				logger.Error("Event queue task failed, destroying queue",
					logger.KeyQueueName, q.name,
					logger.KeyQueueID, q.id.String(),
					logger.KeyTask, t.Kind.String(),
					logger.Err(err))
				q.destroy("task failed")
				return
			}
			q.processed.Add(1)

			if t.Kind == KindDispose {
				q.destroy("disposed")
				return
			}
		}
	}
}

// next pops the head task. When none is left it marks the queue empty.
func (q *Queue[E]) next() (Task[E], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.destroyed || len(q.pending) == 0 {
		if !q.isEmpty {
			close(q.empty)
			q.isEmpty = true
		}
		return Task[E]{}, false
	}

	t := q.pending[0]
	var zero Task[E]
	q.pending[0] = zero
	q.pending = q.pending[1:]
	return t, true
}

func (q *Queue[E]) dispatch(t Task[E]) error {
	start := time.Now()
	var err error
	switch t.Kind {
	case KindPut:
		err = q.listener.HandlePut(q.ctx, t.Element)
	case KindRemove:
		err = q.listener.HandleRemove(q.ctx, t.Key)
	case KindRemoveAll:
		err = q.listener.HandleRemoveAll(q.ctx)
	case KindDispose:
		err = q.listener.HandleDispose(q.ctx)
	default:
		err = fmt.Errorf("eventqueue: unknown task kind %s", t.Kind)
	}
	if q.observer != nil {
		q.observer(t.Kind, time.Since(start), err)
	}
	return err
}

// Stats is a snapshot of queue state.
type Stats struct {
	ID        string
	Name      string
	Alive     bool
	Empty     bool
	Size      int
	Processed uint64
	Failed    uint64
}

func (q *Queue[E]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		ID:        q.id.String(),
		Name:      q.name,
		Alive:     !q.destroyed,
		Empty:     q.isEmpty,
		Size:      len(q.pending),
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
	}
}
