// Package cache keeps successful structured job outputs keyed by request
// fingerprint. Entries are never written for failed or timed out jobs.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Cache is safe for concurrent use. Set with an existing key overwrites it.
type Cache interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	Set(ctx context.Context, key string, value json.RawMessage) error
}

// Eviction decides whether an entry stored at the given time is still
// usable at now.
type Eviction func(stored, now time.Time) bool

// Never keeps entries for the life of the process.
func Never(time.Time, time.Time) bool {
	return true
}

// TTL keeps entries for d. A non-positive d keeps them forever.
func TTL(d time.Duration) Eviction {
	if d <= 0 {
		return Never
	}
	return func(stored, now time.Time) bool {
		return now.Sub(stored) < d
	}
}

type entry struct {
	value  json.RawMessage
	stored time.Time
}

// DefaultSweepEvery is the number of writes between two sweeps of
// expired entries.
const DefaultSweepEvery = 64

type Memory struct {
	mx         sync.RWMutex
	entries    map[string]entry
	keep       Eviction
	now        func() time.Time
	sweepEvery int
	writes     int
}

type Option func(*Memory)

func WithEviction(e Eviction) Option {
	return func(m *Memory) {
		m.keep = e
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		m.now = now
	}
}

// WithSweepEvery drops expired entries every n writes, so keys that are
// never read again do not stay in memory.
func WithSweepEvery(n int) Option {
	return func(m *Memory) {
		if n > 0 {
			m.sweepEvery = n
		}
	}
}

func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		entries:    make(map[string]entry),
		keep:       Never,
		now:        time.Now,
		sweepEvery: DefaultSweepEvery,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Memory) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	m.mx.RLock()
	e, ok := m.entries[key]
	m.mx.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !m.keep(e.stored, m.now()) {
		m.mx.Lock()
		if cur, ok := m.entries[key]; ok && cur.stored.Equal(e.stored) {
			delete(m.entries, key)
		}
		m.mx.Unlock()
		return nil, false, nil
	}
	return clone(e.value), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value json.RawMessage) error {
	e := entry{value: clone(value), stored: m.now()}
	m.mx.Lock()
	defer m.mx.Unlock()
	m.entries[key] = e
	m.writes++
	if m.writes%m.sweepEvery == 0 {
		m.purge(e.stored)
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mx.RLock()
	defer m.mx.RUnlock()
	return len(m.entries)
}

// Purge drops the expired entries. Set does it every sweepEvery writes.
func (m *Memory) Purge() {
	now := m.now()
	m.mx.Lock()
	defer m.mx.Unlock()
	m.purge(now)
}

func (m *Memory) purge(now time.Time) {
	for k, e := range m.entries {
		if !m.keep(e.stored, now) {
			delete(m.entries, k)
		}
	}
}

func clone(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}
