package acquisition

import (
	"fmt"
	"sync"

	"github.com/specphone/specphone/internal/logger"
)

// Observer is notified of every state change.
type Observer interface {
	OnStateChange(State)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(State)

// OnStateChange calls f(s).
func (f ObserverFunc) OnStateChange(s State) { f(s) }

// Broadcaster fans state changes out to subscribed observers. Observers are
// called synchronously in subscription order; a panicking observer is logged
// and does not affect the others.
type Broadcaster struct {
	mu        sync.RWMutex
	next      int
	order     []int
	observers map[int]Observer
	log       logger.Logger
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		observers: make(map[int]Observer),
		log:       logger.Global().Module(componentName),
	}
}

// Subscribe registers o and returns a function that removes it. The returned
// function is safe to call more than once.
func (b *Broadcaster) Subscribe(o Observer) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.observers[id] = o
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.observers, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Notify delivers s to every observer.
func (b *Broadcaster) Notify(s State) {
	b.mu.RLock()
	targets := make([]Observer, 0, len(b.order))
	for _, id := range b.order {
		targets = append(targets, b.observers[id])
	}
	b.mu.RUnlock()

	for _, o := range targets {
		b.deliver(o, s)
	}
}

func (b *Broadcaster) deliver(o Observer, s State) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("state observer panicked",
				logger.String("phase", string(s.Phase)),
				logger.String("panic", fmt.Sprint(r)))
		}
	}()
	o.OnStateChange(s)
}

// Len returns the number of subscribed observers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}
