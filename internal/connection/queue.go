package connection

import (
	"context"
	"sync"
)

// eventQueue decouples event production, which happens under the manager
// lock, from delivery to a consumer that may call back into the manager.
type eventQueue struct {
	mu     sync.Mutex
	items  []Event
	notify chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{notify: make(chan struct{}, 1)}
}

func (q *eventQueue) push(e Event) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *eventQueue) pump(ctx context.Context, out chan<- Event) {
	defer close(out)
	for {
		q.mu.Lock()
		items := q.items
		q.items = nil
		q.mu.Unlock()

		for _, e := range items {
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}

		if len(items) > 0 {
			continue
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return
		}
	}
}
