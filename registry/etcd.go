package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	berr "github.com/next-trace/scg-call-bus/contract/errors"
)

// DefaultEtcdPrefix roots every key written by EtcdRegistry.
const DefaultEtcdPrefix = "/scg-call-bus/endpoints"

const defaultDialTimeout = 5 * time.Second

// EtcdConfig configures NewEtcdRegistry.
type EtcdConfig struct {
	Endpoints   []string
	DialTimeout time.Duration
	Username    string
	Password    string
	Prefix      string
	Logger      *slog.Logger
}

// EtcdRegistry stores endpoints in etcd under TTL leases kept alive in the background.
//
//	Key:   {prefix}{address}/_nodes/{escaped node}
//	Value: JSON-encoded Endpoint
type EtcdRegistry struct {
	client *clientv3.Client
	prefix string
	logger *slog.Logger

	mu     sync.Mutex
	leases map[string]lease // key -> lease
}

type lease struct {
	id     clientv3.LeaseID
	cancel context.CancelFunc
}

var _ Registry = (*EtcdRegistry)(nil)

// NewEtcdRegistry creates a registry connected to cfg.Endpoints.
func NewEtcdRegistry(cfg EtcdConfig) (*EtcdRegistry, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd registry: endpoints required: %w", berr.ErrRegistryUnavailable)
	}

	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	if cfg.Prefix == "" {
		cfg.Prefix = DefaultEtcdPrefix
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	c, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd registry: %w", errors.Join(berr.ErrRegistryUnavailable, err))
	}

	return &EtcdRegistry{
		client: c,
		prefix: strings.TrimSuffix(cfg.Prefix, "/"),
		logger: cfg.Logger,
		leases: make(map[string]lease),
	}, nil
}

// Register puts ep under a fresh lease and keeps the lease alive until Deregister or Close.
// Registering the same (address, node) again replaces the previous lease.
func (r *EtcdRegistry) Register(ctx context.Context, ep Endpoint, ttl time.Duration) error {
	if ep.Address == "" || ep.Node == "" {
		return fmt.Errorf("register: address and node required: %w", berr.ErrInvalidConfig)
	}

	val, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("register %s: %w", ep.Address, errors.Join(berr.ErrSerializationFailed, err))
	}

	secs := int64(ttlOrDefault(ttl).Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}

	grant, err := r.client.Grant(ctx, secs)
	if err != nil {
		return r.unavailable("register", ep.Address, err)
	}

	key := r.key(ep.Address, ep.Node)
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(grant.ID)); err != nil {
		return r.unavailable("register", ep.Address, err)
	}

	// The keepalive outlives ctx; it stops on Deregister or Close.
	kctx, cancel := context.WithCancel(context.Background())

	ch, err := r.client.KeepAlive(kctx, grant.ID)
	if err != nil {
		cancel()
		return r.unavailable("register", ep.Address, err)
	}

	go func() {
		for range ch {
		}

		r.logger.Debug("etcd keepalive stopped", "address", ep.Address, "node", ep.Node)
	}()

	r.mu.Lock()
	old, had := r.leases[key]
	r.leases[key] = lease{id: grant.ID, cancel: cancel}
	r.mu.Unlock()

	if had {
		old.cancel()
		_, _ = r.client.Revoke(ctx, old.id)
	}

	return nil
}

func (r *EtcdRegistry) Deregister(ctx context.Context, address, node string) error {
	key := r.key(address, node)

	r.mu.Lock()
	l, had := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if had {
		l.cancel()
	}

	if _, err := r.client.Delete(ctx, key); err != nil {
		return r.unavailable("deregister", address, err)
	}

	if had {
		if _, err := r.client.Revoke(ctx, l.id); err != nil {
			r.logger.Warn("etcd lease revoke failed", "address", address, "err", err)
		}
	}

	return nil
}

func (r *EtcdRegistry) Discover(ctx context.Context, address string) ([]Endpoint, error) {
	resp, err := r.client.Get(ctx, r.nodesPrefix(address), clientv3.WithPrefix())
	if err != nil {
		return nil, r.unavailable("discover", address, err)
	}

	out := make([]Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var ep Endpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			r.logger.Warn("skipping malformed endpoint", "key", string(kv.Key), "err", err)
			continue
		}

		out = append(out, ep)
	}

	return sortByNode(out), nil
}

func (r *EtcdRegistry) Watch(ctx context.Context, address string) <-chan []Endpoint {
	out := make(chan []Endpoint, 1)

	go func() {
		defer close(out)

		send := func() bool {
			eps, err := r.Discover(ctx, address)
			if err != nil {
				r.logger.Warn("etcd watch refresh failed", "address", address, "err", err)
				return ctx.Err() == nil
			}

			select {
			case out <- eps:
				return true
			case <-ctx.Done():
				return false
			}
		}

		wc := r.client.Watch(ctx, r.nodesPrefix(address), clientv3.WithPrefix())
		if !send() {
			return
		}

		for wr := range wc {
			if err := wr.Err(); err != nil {
				r.logger.Warn("etcd watch error", "address", address, "err", err)
			}

			if !send() {
				return
			}
		}
	}()

	return out
}

// Close stops every keepalive and closes the client. Leases expire on their own.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	for k, l := range r.leases {
		l.cancel()
		delete(r.leases, k)
	}
	r.mu.Unlock()

	return r.client.Close()
}

func (r *EtcdRegistry) nodesPrefix(address string) string {
	return r.prefix + "/" + strings.Trim(address, "/") + "/_nodes/"
}

func (r *EtcdRegistry) key(address, node string) string {
	return r.nodesPrefix(address) + url.PathEscape(node)
}

func (r *EtcdRegistry) unavailable(op, address string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return fmt.Errorf("%s %s: %w", op, address, errors.Join(berr.ErrRegistryUnavailable, err))
}
