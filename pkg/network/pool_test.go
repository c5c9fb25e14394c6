package network

import (
	"context"
	"testing"

	"github.com/cuemby/flockd/pkg/coordstore"
	"github.com/cuemby/flockd/pkg/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainPoolCreateAndRemove(t *testing.T) {
	rt := runtime.NewFake()
	p := NewPlainPool(rt, "flock-net", "burst", "owt.network.managed")

	ctx := context.Background()
	id, ok := p.CreateNetwork(ctx)
	require.True(t, ok)
	require.NotEmpty(t, id)

	nets, err := rt.ListNetworks(ctx, map[string]string{"owt.network.managed": "burst"})
	require.NoError(t, err)
	assert.Len(t, nets, 1)

	ok = p.RemoveNetwork(ctx, id)
	assert.True(t, ok)

	nets, err = rt.ListNetworks(ctx, map[string]string{"owt.network.managed": "burst"})
	require.NoError(t, err)
	assert.Empty(t, nets)
}

func TestPlainPoolRemoveDisconnectsMembers(t *testing.T) {
	rt := runtime.NewFake()
	p := NewPlainPool(rt, "flock-net", "burst", "owt.network.managed")

	ctx := context.Background()
	id, ok := p.CreateNetwork(ctx)
	require.True(t, ok)

	containerID, err := rt.CreateContainer(ctx, runtime.ContainerCreateSpec{Name: "box", Image: "busybox"})
	require.NoError(t, err)
	require.NoError(t, rt.ConnectNetwork(ctx, id, containerID))

	ok = p.RemoveNetwork(ctx, id)
	assert.True(t, ok, "removal must disconnect members before destroying the network")
}

func TestCachedPoolRecyclesUnderCap(t *testing.T) {
	rt := runtime.NewFake()
	store, err := coordstore.New("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	c := NewCachedPool(rt, store, "flock-net", "sticky", "owt.network.managed", 2)
	ctx := context.Background()

	id1, ok := c.CreateNetwork(ctx)
	require.True(t, ok)

	ok = c.RemoveNetwork(ctx, id1)
	require.True(t, ok)

	id2, ok := c.CreateNetwork(ctx)
	require.True(t, ok)
	assert.Equal(t, id1, id2, "recycled network should be reused before creating a new one")
}

func TestCachedPoolDestroysOverCap(t *testing.T) {
	rt := runtime.NewFake()
	store, err := coordstore.New("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	c := NewCachedPool(rt, store, "flock-net", "sticky", "owt.network.managed", 0)
	ctx := context.Background()

	id, ok := c.CreateNetwork(ctx)
	require.True(t, ok)

	ok = c.RemoveNetwork(ctx, id)
	require.True(t, ok)

	nets, err := rt.ListNetworks(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, nets, "over-capacity cache must destroy rather than recycle")
}

func TestCachedPoolShutdownDrainsCache(t *testing.T) {
	rt := runtime.NewFake()
	store, err := coordstore.New("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	c := NewCachedPool(rt, store, "flock-net", "sticky", "owt.network.managed", 5)
	ctx := context.Background()

	id, ok := c.CreateNetwork(ctx)
	require.True(t, ok)
	require.True(t, c.RemoveNetwork(ctx, id))

	card, err := store.SCard(c.cacheKey())
	require.NoError(t, err)
	assert.Equal(t, 1, card)

	c.Shutdown(ctx)

	card, err = store.SCard(c.cacheKey())
	require.NoError(t, err)
	assert.Equal(t, 0, card)

	nets, err := rt.ListNetworks(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, nets)
}
