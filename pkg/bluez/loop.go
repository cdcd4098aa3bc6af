package bluez

import (
	"context"
	"sync"

	"github.com/srg/bluezkit/internal/groutine"
)

type task func(ctx context.Context)

// eventLoop runs tasks one at a time in posting order on a dedicated
// goroutine. The queue is unbounded so the bus router never blocks on a slow
// listener.
type eventLoop struct {
	mu    sync.Mutex
	tasks []task
	wake  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   <-chan struct{}
}

func newEventLoop(name string) *eventLoop {
	ctx, cancel := context.WithCancel(context.Background())
	l := &eventLoop{
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	l.done = groutine.Go(ctx, name, l.run)
	return l
}

// post enqueues t. It reports false once the loop is stopped.
func (l *eventLoop) post(t task) bool {
	l.mu.Lock()
	if l.ctx.Err() != nil {
		l.mu.Unlock()
		return false
	}
	l.tasks = append(l.tasks, t)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *eventLoop) next() (task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.tasks) == 0 {
		return nil, false
	}
	t := l.tasks[0]
	l.tasks[0] = nil
	l.tasks = l.tasks[1:]
	return t, true
}

func (l *eventLoop) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}

		for {
			t, ok := l.next()
			if !ok {
				break
			}
			if ctx.Err() != nil {
				return
			}
			t(ctx)
		}
	}
}

// flush waits until every task posted before the call has run.
func (l *eventLoop) flush(ctx context.Context) error {
	reached := make(chan struct{})
	if !l.post(func(context.Context) { close(reached) }) {
		return ErrClosed
	}

	select {
	case <-reached:
		return nil
	case <-l.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop discards pending tasks and ends the loop after the running task.
func (l *eventLoop) stop() {
	l.mu.Lock()
	l.cancel()
	l.tasks = nil
	l.mu.Unlock()
}
