// Package gate admits at most one cold forecast job at a time.
package gate

import (
	"sync"
	"sync/atomic"
)

// Gate is an atomic test-and-set admission check. TryAcquire never blocks.
// Every successful TryAcquire must be paired with exactly one Release of the
// same key.
type Gate interface {
	TryAcquire(key string) bool
	Release(key string)
}

// Global admits one job process wide regardless of the key.
type Global struct {
	busy atomic.Bool
}

func NewGlobal() *Global {
	return &Global{}
}

func (g *Global) TryAcquire(string) bool {
	return g.busy.CompareAndSwap(false, true)
}

func (g *Global) Release(string) {
	g.busy.Store(false)
}

// Keyed admits one job per key. Jobs with different keys run concurrently.
type Keyed struct {
	mx   sync.Mutex
	held map[string]struct{}
}

func NewKeyed() *Keyed {
	return &Keyed{held: make(map[string]struct{})}
}

func (k *Keyed) TryAcquire(key string) bool {
	k.mx.Lock()
	defer k.mx.Unlock()
	if _, ok := k.held[key]; ok {
		return false
	}
	k.held[key] = struct{}{}
	return true
}

func (k *Keyed) Release(key string) {
	k.mx.Lock()
	delete(k.held, key)
	k.mx.Unlock()
}
