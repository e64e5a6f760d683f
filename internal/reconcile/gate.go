package reconcile

import (
	"context"
	"sync"
)

// Gate serializes work per key. Lock blocks until the key is free or ctx is
// done; the returned func releases it.
type Gate interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// KeyedGate is an in-process Gate.
type KeyedGate struct {
	mu    sync.Mutex
	slots map[string]*gateSlot
}

type gateSlot struct {
	ch   chan struct{}
	refs int
}

// NewKeyedGate returns an empty KeyedGate.
func NewKeyedGate() *KeyedGate {
	return &KeyedGate{slots: make(map[string]*gateSlot)}
}

func (g *KeyedGate) Lock(ctx context.Context, key string) (func(), error) {
	g.mu.Lock()
	slot, ok := g.slots[key]
	if !ok {
		slot = &gateSlot{ch: make(chan struct{}, 1)}
		g.slots[key] = slot
	}
	slot.refs++
	g.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		g.release(key, slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			g.release(key, slot)
		})
	}, nil
}

func (g *KeyedGate) release(key string, slot *gateSlot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(g.slots, key)
	}
}

// held returns the number of keys with waiters or holders.
func (g *KeyedGate) held() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.slots)
}
