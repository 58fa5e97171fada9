package flood

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/floodgate/floodgate/internal/core"
)

type memoryKey struct {
	name       string
	identifier string
}

// MemoryBackend keeps events in process memory. It suits single-process
// deployments and tests; nothing survives a restart.
type MemoryBackend struct {
	mu     sync.Mutex
	events map[memoryKey][]core.FloodEvent
	clock  Clock
}

// NewMemoryBackend builds an empty in-memory backend. A nil clock uses UTC wall time.
func NewMemoryBackend(clock Clock) *MemoryBackend {
	if clock == nil {
		clock = systemClock
	}
	return &MemoryBackend{
		events: make(map[memoryKey][]core.FloodEvent),
		clock:  clock,
	}
}

func (b *MemoryBackend) Register(ctx context.Context, name string, window time.Duration, identifier string) error {
	identifier, err := resolveIdentifier(ctx, identifier)
	if err != nil {
		return err
	}

	now := b.clock().Unix()
	key := memoryKey{name: name, identifier: identifier}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[key] = append(b.events[key], core.FloodEvent{
		Event:      name,
		Identifier: identifier,
		Timestamp:  now,
		Expiration: now + windowSeconds(window),
	})
	return nil
}

func (b *MemoryBackend) IsAllowed(ctx context.Context, name string, threshold int, window time.Duration, identifier string) (bool, error) {
	identifier, err := resolveIdentifier(ctx, identifier)
	if err != nil {
		return false, err
	}

	now := b.clock()
	window = time.Duration(windowSeconds(window)) * time.Second

	b.mu.Lock()
	defer b.mu.Unlock()

	count := 0
	for _, event := range b.events[memoryKey{name: name, identifier: identifier}] {
		if event.Active(now, window) {
			count++
		}
	}
	return count < threshold, nil
}

func (b *MemoryBackend) Clear(ctx context.Context, name string, identifier string) error {
	identifier, err := resolveIdentifier(ctx, identifier)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, memoryKey{name: name, identifier: identifier})
	return nil
}

func (b *MemoryBackend) ClearByPrefix(_ context.Context, name string, prefix string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key := range b.events {
		if key.name == name && strings.HasPrefix(key.identifier, prefix) {
			delete(b.events, key)
		}
	}
	return nil
}

func (b *MemoryBackend) GarbageCollection(_ context.Context) (int64, error) {
	now := b.clock()

	b.mu.Lock()
	defer b.mu.Unlock()

	var removed int64
	for key, events := range b.events {
		kept := events[:0]
		for _, event := range events {
			if event.Expired(now) {
				removed++
				continue
			}
			kept = append(kept, event)
		}
		if len(kept) == 0 {
			delete(b.events, key)
			continue
		}
		b.events[key] = kept
	}
	return removed, nil
}

// Events returns a snapshot of stored events, for admin listings.
func (b *MemoryBackend) Events() []core.FloodEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := []core.FloodEvent{}
	for _, events := range b.events {
		out = append(out, events...)
	}
	return out
}
