package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	berr "github.com/next-trace/scg-call-bus/contract/errors"
)

type entry struct {
	ep      Endpoint
	expires time.Time
}

// Memory is an in-process Registry. Expired entries stay stored but are hidden from Discover.
type Memory struct {
	mu       sync.RWMutex
	entries  map[string]map[string]entry // address -> node -> entry
	watchers map[string][]chan struct{}
	closed   bool
	now      func() time.Time
}

var _ Registry = (*Memory)(nil)

// NewMemory creates an empty registry.
func NewMemory() *Memory {
	return &Memory{
		entries:  make(map[string]map[string]entry),
		watchers: make(map[string][]chan struct{}),
		now:      time.Now,
	}
}

func (m *Memory) Register(ctx context.Context, ep Endpoint, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if ep.Address == "" || ep.Node == "" {
		return fmt.Errorf("register: address and node required: %w", berr.ErrInvalidConfig)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("register %s: %w", ep.Address, berr.ErrRegistryUnavailable)
	}

	nodes := m.entries[ep.Address]
	if nodes == nil {
		nodes = make(map[string]entry)
		m.entries[ep.Address] = nodes
	}

	nodes[ep.Node] = entry{ep: ep, expires: m.now().Add(ttlOrDefault(ttl))}
	m.notifyLocked(ep.Address)

	return nil
}

func (m *Memory) Deregister(ctx context.Context, address, node string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("deregister %s: %w", address, berr.ErrRegistryUnavailable)
	}

	nodes, ok := m.entries[address]
	if !ok {
		return nil
	}

	if _, ok := nodes[node]; !ok {
		return nil
	}

	delete(nodes, node)

	if len(nodes) == 0 {
		delete(m.entries, address)
	}

	m.notifyLocked(address)

	return nil
}

func (m *Memory) Discover(ctx context.Context, address string) ([]Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("discover %s: %w", address, berr.ErrRegistryUnavailable)
	}

	return m.liveLocked(address), nil
}

func (m *Memory) Watch(ctx context.Context, address string) <-chan []Endpoint {
	out := make(chan []Endpoint, 1)
	wake := make(chan struct{}, 1)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(out)

		return out
	}

	m.watchers[address] = append(m.watchers[address], wake)
	out <- m.liveLocked(address)
	m.mu.Unlock()

	go func() {
		defer close(out)
		defer m.unwatch(address, wake)

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-wake:
				if !ok {
					return
				}

				m.mu.RLock()
				eps := m.liveLocked(address)
				m.mu.RUnlock()

				select {
				case out <- eps:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// Close stops every watcher and rejects further use.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true

	for addr, ws := range m.watchers {
		for _, w := range ws {
			close(w)
		}

		delete(m.watchers, addr)
	}

	return nil
}

func (m *Memory) unwatch(address string, wake chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws := m.watchers[address]
	for i, w := range ws {
		if w == wake {
			m.watchers[address] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
}

func (m *Memory) liveLocked(address string) []Endpoint {
	now := m.now()
	out := make([]Endpoint, 0, len(m.entries[address]))

	for _, e := range m.entries[address] {
		if now.Before(e.expires) {
			out = append(out, e.ep)
		}
	}

	return sortByNode(out)
}

func (m *Memory) notifyLocked(address string) {
	for _, w := range m.watchers[address] {
		select {
		case w <- struct{}{}:
		default:
		}
	}
}
