package servicebus

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/btree"

	cbus "github.com/next-trace/scg-call-bus/contract/bus"
	berr "github.com/next-trace/scg-call-bus/contract/errors"
)

const btreeDegree = 16

// router maps names and addresses to service queues.
//
// addresses holds every registered address in order. seen caches the addresses that already
// answered a prefix lookup, and stays closed under extension: if p is in seen, every registered
// address starting with p is too. A prefix hit in seen is therefore the longest registered prefix.
type router struct {
	mu        sync.RWMutex
	routes    map[string]cbus.SendQueue[cbus.MethodCall]
	addresses *btree.BTreeG[string]
	seen      *btree.BTreeG[string]
}

func newRouter() *router {
	return &router{
		routes:    make(map[string]cbus.SendQueue[cbus.MethodCall]),
		addresses: btree.NewG(btreeDegree, btree.Less[string]()),
		seen:      btree.NewG(btreeDegree, btree.Less[string]()),
	}
}

// add registers q under name and every address. Nothing is registered if any key is taken.
func (r *router) add(name string, addresses []string, q cbus.SendQueue[cbus.MethodCall]) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(addresses)+1)
	if name != "" {
		keys = append(keys, name)
	}

	keys = append(keys, addresses...)

	for _, k := range keys {
		if _, exists := r.routes[k]; exists {
			return fmt.Errorf("register %s: %w", k, berr.ErrServiceExists)
		}
	}

	for _, k := range keys {
		r.routes[k] = q
	}

	for _, a := range addresses {
		r.addresses.ReplaceOrInsert(a)

		if _, ok := longestPrefix(r.seen, a); ok {
			r.seen.ReplaceOrInsert(a)
		}
	}

	return nil
}

// resolve returns the routing key and queue for call.
func (r *router) resolve(call cbus.MethodCall) (string, cbus.SendQueue[cbus.MethodCall], bool) {
	if call.Address != "" {
		return r.byAddress(call.Address)
	}

	if call.ObjectName != "" {
		r.mu.RLock()
		q, ok := r.routes[call.ObjectName]
		r.mu.RUnlock()

		return call.ObjectName, q, ok
	}

	return "", nil, false
}

func (r *router) byAddress(addr string) (string, cbus.SendQueue[cbus.MethodCall], bool) {
	r.mu.RLock()
	if q, ok := r.routes[addr]; ok {
		r.mu.RUnlock()
		return addr, q, true
	}

	if p, ok := longestPrefix(r.seen, addr); ok {
		q := r.routes[p]
		r.mu.RUnlock()

		return p, q, true
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := longestPrefix(r.addresses, addr)
	if !ok {
		return "", nil, false
	}

	r.promote(p)

	return p, r.routes[p], true
}

// promote adds p and every registered extension of p to seen.
func (r *router) promote(p string) {
	r.addresses.AscendGreaterOrEqual(p, func(a string) bool {
		if !strings.HasPrefix(a, p) {
			return false
		}

		r.seen.ReplaceOrInsert(a)

		return true
	})
}

func (r *router) keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.routes))
}

func (r *router) queues() []cbus.SendQueue[cbus.MethodCall] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]cbus.SendQueue[cbus.MethodCall], 0, len(r.routes))
	for _, q := range r.routes {
		if !slices.Contains(out, q) {
			out = append(out, q)
		}
	}

	return out
}

func (r *router) seenLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.seen.Len()
}

// longestPrefix returns the longest element of t that addr starts with.
//
// The floor of the pivot is either a prefix of addr or shares a common prefix with it that
// sorts strictly below the floor. Every prefix of addr still in play sorts at or below that
// common prefix, so the search continues from there until a hit or an empty floor.
func longestPrefix(t *btree.BTreeG[string], addr string) (string, bool) {
	pivot := addr

	for {
		cand, ok := floor(t, pivot)
		if !ok {
			return "", false
		}

		if strings.HasPrefix(addr, cand) {
			return cand, true
		}

		pivot = commonPrefix(cand, addr)
	}
}

func floor(t *btree.BTreeG[string], pivot string) (string, bool) {
	var (
		out string
		ok  bool
	)

	t.DescendLessOrEqual(pivot, func(s string) bool {
		out, ok = s, true
		return false
	})

	return out, ok
}

func commonPrefix(a, b string) string {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[:i]
		}
	}

	return a[:n]
}
