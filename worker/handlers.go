package worker

import "sync"

// ListenerHandle removes exactly the callback whose registration produced it.
// The zero value is a no-op.
type ListenerHandle struct {
	remove func()
}

func (h ListenerHandle) Remove() {
	if h.remove != nil {
		h.remove()
	}
}

type bagEntry[T any] struct {
	id uint64
	fn func(T)
}

// bag is an ordered, multi-shot listener collection. Callbacks are invoked in
// registration order outside the lock, so they may register or remove
// listeners themselves.
type bag[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []bagEntry[T]
}

func (b *bag[T]) add(fn func(T)) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.entries = append(b.entries, bagEntry[T]{id: b.nextID, fn: fn})
	return b.nextID
}

func (b *bag[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.entries {
		if e.id == id {
			b.entries = append(b.entries[:i:i], b.entries[i+1:]...)
			return
		}
	}
}

func (b *bag[T]) call(v T) {
	b.mu.Lock()
	snapshot := make([]bagEntry[T], len(b.entries))
	copy(snapshot, b.entries)
	b.mu.Unlock()
	for _, e := range snapshot {
		e.fn(v)
	}
}

// bagOnce drains entries as it invokes them, so each registered callback
// fires at most once no matter how often call runs.
type bagOnce[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []bagEntry[T]
}

func (b *bagOnce[T]) add(fn func(T)) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.entries = append(b.entries, bagEntry[T]{id: b.nextID, fn: fn})
	return b.nextID
}

func (b *bagOnce[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.entries {
		if e.id == id {
			b.entries = append(b.entries[:i:i], b.entries[i+1:]...)
			return
		}
	}
}

func (b *bagOnce[T]) call(v T) {
	b.mu.Lock()
	drained := b.entries
	b.entries = nil
	b.mu.Unlock()
	for _, e := range drained {
		e.fn(v)
	}
}
