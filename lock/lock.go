// Package lock serialises read-modify-commit cycles on one subscription.
package lock

import (
	"context"
	"sync"
)

// Locker grants exclusive access to a key. The returned release function
// must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// SubscriptionKey is the lock key for a subscription.
func SubscriptionKey(subID string) string { return "subscription:" + subID }

// ArtistKey is the lock key guarding subscription creation for an artist.
func ArtistKey(artistID string) string { return "artist:" + artistID }

// SweepKey is held for the duration of a billing sweep.
const SweepKey = "sweep:billing"

// Keyed is an in-process Locker. Entries are dropped once no goroutine
// holds or waits for them.
type Keyed struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

var _ Locker = (*Keyed)(nil)

// NewKeyed returns an empty in-process locker.
func NewKeyed() *Keyed {
	return &Keyed{slots: make(map[string]*slot)}
}

func (k *Keyed) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	k.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		k.unref(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			k.unref(key, s)
		})
	}, nil
}

func (k *Keyed) unref(key string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}

// Len returns the number of keys currently held or awaited.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}
