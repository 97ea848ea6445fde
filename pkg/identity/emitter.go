package identity

import (
	"sort"
	"sync"
)

// emitter delivers auth state callbacks on a single goroutine, in the order
// they were queued. Queuing never blocks on a slow listener.
type emitter struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]Listener
	pending   []func()
	closed    bool

	wake chan struct{}
	done chan struct{}
}

func newEmitter() *emitter {
	e := &emitter{
		listeners: make(map[int]Listener),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *emitter) run() {
	for {
		select {
		case <-e.done:
			return
		case <-e.wake:
		}
		for {
			e.mu.Lock()
			if e.closed || len(e.pending) == 0 {
				e.mu.Unlock()
				break
			}
			fn := e.pending[0]
			e.pending[0] = nil
			e.pending = e.pending[1:]
			e.mu.Unlock()
			fn()
		}
	}
}

func (e *emitter) enqueue(fn func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.pending = append(e.pending, fn)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// subscribe registers fn. When initial is true, fn alone receives
// current as its first callback.
func (e *emitter) subscribe(fn Listener, initial bool, current *User) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.mu.Unlock()

	if initial {
		e.enqueue(func() {
			if l, ok := e.listener(id); ok {
				l(current.Clone())
			}
		})
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners, id)
			e.mu.Unlock()
		})
	}
}

func (e *emitter) listener(id int) (Listener, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.listeners[id]
	return l, ok
}

// publish queues user for every listener registered at delivery time.
func (e *emitter) publish(user *User) {
	snapshot := user.Clone()
	e.enqueue(func() {
		e.mu.Lock()
		ids := make([]int, 0, len(e.listeners))
		for id := range e.listeners {
			ids = append(ids, id)
		}
		e.mu.Unlock()
		sort.Ints(ids)
		for _, id := range ids {
			if l, ok := e.listener(id); ok {
				l(snapshot.Clone())
			}
		}
	})
}

func (e *emitter) close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.pending = nil
	e.mu.Unlock()
	close(e.done)
}
