package registry_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	berr "github.com/next-trace/scg-call-bus/contract/errors"
	"github.com/next-trace/scg-call-bus/registry"
)

type fakeBundle struct {
	address   string
	endpoints []string
}

func (f fakeBundle) Address() string     { return f.address }
func (f fakeBundle) EndPoints() []string { return f.endpoints }

func TestMemory_RegisterDiscoverDeregister(t *testing.T) {
	reg := registry.NewMemory()
	defer reg.Close()

	ctx := t.Context()
	require.NoError(t, reg.Register(ctx, registry.Endpoint{Address: "/app/users", Node: "node-b"}, time.Minute))
	require.NoError(t, reg.Register(ctx, registry.Endpoint{Address: "/app/users", Node: "node-a"}, time.Minute))
	require.NoError(t, reg.Register(ctx, registry.Endpoint{Address: "/app/orders", Node: "node-a"}, time.Minute))

	eps, err := reg.Discover(ctx, "/app/users")
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, "node-a", eps[0].Node)
	assert.Equal(t, "node-b", eps[1].Node)

	require.NoError(t, reg.Deregister(ctx, "/app/users", "node-a"))
	require.NoError(t, reg.Deregister(ctx, "/app/users", "missing"))

	eps, err = reg.Discover(ctx, "/app/users")
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, "node-b", eps[0].Node)

	err = reg.Register(ctx, registry.Endpoint{Address: "/x"}, time.Minute)
	require.ErrorIs(t, err, berr.ErrInvalidConfig)
}

func TestMemory_EntriesExpire(t *testing.T) {
	reg := registry.NewMemory()
	defer reg.Close()

	require.NoError(t, reg.Register(t.Context(), registry.Endpoint{Address: "/a", Node: "n"}, 20*time.Millisecond))

	require.Eventually(t, func() bool {
		eps, err := reg.Discover(t.Context(), "/a")
		return err == nil && len(eps) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestMemory_Watch(t *testing.T) {
	reg := registry.NewMemory()
	defer reg.Close()

	ctx, cancel := context.WithCancel(t.Context())
	ch := reg.Watch(ctx, "/a")

	first := <-ch
	assert.Empty(t, first)

	require.NoError(t, reg.Register(t.Context(), registry.Endpoint{Address: "/a", Node: "n1"}, time.Minute))

	select {
	case eps := <-ch:
		require.Len(t, eps, 1)
		assert.Equal(t, "n1", eps[0].Node)
	case <-time.After(time.Second):
		t.Fatal("no watch update")
	}

	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestMemory_Close(t *testing.T) {
	reg := registry.NewMemory()
	ch := reg.Watch(t.Context(), "/a")
	<-ch

	require.NoError(t, reg.Close())
	require.NoError(t, reg.Close())

	_, err := reg.Discover(t.Context(), "/a")
	require.ErrorIs(t, err, berr.ErrRegistryUnavailable)

	err = reg.Register(t.Context(), registry.Endpoint{Address: "/a", Node: "n"}, 0)
	require.ErrorIs(t, err, berr.ErrRegistryUnavailable)

	_, ok := <-ch
	assert.False(t, ok)
}

func TestPublishBundle_SkipsBareNames(t *testing.T) {
	reg := registry.NewMemory()
	defer reg.Close()

	b := fakeBundle{address: "/app", endpoints: []string{"/app/users", "/users", "users"}}

	eps, err := registry.PublishBundle(t.Context(), reg, b, "nats://n1", "application/json", time.Minute)
	require.NoError(t, err)
	require.Len(t, eps, 2)

	got, err := reg.Discover(t.Context(), "/users")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, registry.Endpoint{Address: "/users", Bundle: "/app", Node: "nats://n1", ContentType: "application/json"}, got[0])

	require.NoError(t, registry.WithdrawBundle(t.Context(), reg, eps))

	got, err = reg.Discover(t.Context(), "/app/users")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = registry.PublishBundle(t.Context(), reg, b, "", "", 0)
	require.ErrorIs(t, err, berr.ErrInvalidConfig)
}

func TestResolve_LongestPublishedPrefix(t *testing.T) {
	reg := registry.NewMemory()
	defer reg.Close()

	ctx := t.Context()
	require.NoError(t, reg.Register(ctx, registry.Endpoint{Address: "/app", Node: "root"}, time.Minute))
	require.NoError(t, reg.Register(ctx, registry.Endpoint{Address: "/app/users", Node: "users"}, time.Minute))

	eps, err := registry.Resolve(ctx, reg, "/app/users/Find")
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, "users", eps[0].Node)

	eps, err = registry.Resolve(ctx, reg, "/app/orders/List")
	require.NoError(t, err)
	assert.Equal(t, "root", eps[0].Node)

	_, err = registry.Resolve(ctx, reg, "/other/x")
	require.ErrorIs(t, err, berr.ErrNoRoute)
}

func TestNewEtcdRegistry_NoEndpoints(t *testing.T) {
	_, err := registry.NewEtcdRegistry(registry.EtcdConfig{})
	require.ErrorIs(t, err, berr.ErrRegistryUnavailable)
}

// Runs against a live etcd when SCG_ETCD_ENDPOINTS is set, e.g. "localhost:2379".
func TestEtcdRegistry_Live(t *testing.T) {
	endpoints := os.Getenv("SCG_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("SCG_ETCD_ENDPOINTS not set")
	}

	reg, err := registry.NewEtcdRegistry(registry.EtcdConfig{
		Endpoints: strings.Split(endpoints, ","),
		Prefix:    "/scg-call-bus-test/" + t.Name(),
	})
	require.NoError(t, err)
	defer reg.Close()

	ctx := t.Context()
	a := registry.Endpoint{Address: "/app/users", Node: "127.0.0.1:8001"}
	b := registry.Endpoint{Address: "/app/users", Node: "127.0.0.1:8002"}

	require.NoError(t, reg.Register(ctx, a, 10*time.Second))
	require.NoError(t, reg.Register(ctx, b, 10*time.Second))

	eps, err := reg.Discover(ctx, "/app/users")
	require.NoError(t, err)
	require.Equal(t, []registry.Endpoint{a, b}, eps)

	require.NoError(t, reg.Deregister(ctx, a.Address, a.Node))

	eps, err = reg.Discover(ctx, "/app/users")
	require.NoError(t, err)
	require.Equal(t, []registry.Endpoint{b}, eps)

	require.NoError(t, reg.Deregister(ctx, b.Address, b.Node))
}
