// Package registry publishes the addresses a bundle serves so remote callers can find the node
// (transport location) that answers them. Entries carry a TTL and disappear when their owner stops
// refreshing them.
package registry

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	berr "github.com/next-trace/scg-call-bus/contract/errors"
)

// DefaultTTL is used when a registration asks for no TTL.
const DefaultTTL = 10 * time.Second

// Endpoint is one published call address.
type Endpoint struct {
	Address     string `json:"address"`
	Bundle      string `json:"bundle,omitempty"`
	Node        string `json:"node"`
	ContentType string `json:"contentType,omitempty"`
}

// Registry stores endpoints keyed by (address, node).
type Registry interface {
	Register(ctx context.Context, ep Endpoint, ttl time.Duration) error
	Deregister(ctx context.Context, address, node string) error
	// Discover returns the live endpoints registered under exactly address, ordered by node.
	Discover(ctx context.Context, address string) ([]Endpoint, error)
	// Watch emits the endpoint list for address after every change until ctx is done.
	Watch(ctx context.Context, address string) <-chan []Endpoint
	Close() error
}

// Publisher is the part of a bundle PublishBundle needs.
type Publisher interface {
	Address() string
	EndPoints() []string
}

// PublishBundle registers every absolute address b serves under node. Bare service names are
// local to the process and are skipped.
func PublishBundle(ctx context.Context, reg Registry, b Publisher, node, contentType string, ttl time.Duration) ([]Endpoint, error) {
	if node == "" {
		return nil, fmt.Errorf("publish bundle %s: node required: %w", b.Address(), berr.ErrInvalidConfig)
	}

	var out []Endpoint

	for _, addr := range b.EndPoints() {
		if !strings.HasPrefix(addr, "/") {
			continue
		}

		ep := Endpoint{Address: addr, Bundle: b.Address(), Node: node, ContentType: contentType}
		if err := reg.Register(ctx, ep, ttl); err != nil {
			return out, fmt.Errorf("publish bundle %s: %w", b.Address(), err)
		}

		out = append(out, ep)
	}

	return out, nil
}

// WithdrawBundle removes the endpoints returned by PublishBundle.
func WithdrawBundle(ctx context.Context, reg Registry, eps []Endpoint) error {
	for _, ep := range eps {
		if err := reg.Deregister(ctx, ep.Address, ep.Node); err != nil {
			return fmt.Errorf("withdraw %s: %w", ep.Address, err)
		}
	}

	return nil
}

// Resolve finds the endpoints for the longest published prefix of address, walking up one path
// element at a time.
func Resolve(ctx context.Context, reg Registry, address string) ([]Endpoint, error) {
	for a := strings.TrimSuffix(address, "/"); a != ""; a = parent(a) {
		eps, err := reg.Discover(ctx, a)
		if err != nil {
			return nil, err
		}

		if len(eps) > 0 {
			return eps, nil
		}
	}

	return nil, fmt.Errorf("resolve %s: %w", address, berr.ErrNoRoute)
}

func parent(address string) string {
	i := strings.LastIndex(address, "/")
	if i <= 0 {
		return ""
	}

	return address[:i]
}

func sortByNode(eps []Endpoint) []Endpoint {
	slices.SortFunc(eps, func(a, b Endpoint) int { return strings.Compare(a.Node, b.Node) })

	return eps
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}

	return ttl
}
