package reconciler

import (
	"context"
	"testing"

	"github.com/cuemby/flockd/pkg/coordstore"
	"github.com/cuemby/flockd/pkg/network"
	"github.com/cuemby/flockd/pkg/runtime"
	"github.com/cuemby/flockd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileRemovesOrphanedContainer(t *testing.T) {
	ctx := context.Background()
	labels := types.DefaultLabels()
	rt := runtime.NewFake()
	store, err := coordstore.New("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	netPool := network.NewPlainPool(rt, "flock-net", "p1", labels.Network)

	netID, ok := netPool.CreateNetwork(ctx)
	require.True(t, ok)

	id, err := rt.CreateContainer(ctx, runtime.ContainerCreateSpec{
		Name:        "orphan",
		Image:       "busybox:latest",
		NetworkName: netID,
		Labels:      map[string]string{labels.Request: "ghost-reqid"},
	})
	require.NoError(t, err)
	require.NoError(t, rt.StartContainer(ctx, id))

	r := New(rt, store, labels, 0)
	r.Reconcile(ctx)

	containers, err := rt.ListContainers(ctx, map[string]string{})
	require.NoError(t, err)
	assert.Empty(t, containers, "orphaned container must be removed")

	exists, err := store.Exists(coordstore.RequestKey("ghost-reqid"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestReconcileLeavesLiveRequestAlone(t *testing.T) {
	ctx := context.Background()
	labels := types.DefaultLabels()
	rt := runtime.NewFake()
	store, err := coordstore.New("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	netPool := network.NewPlainPool(rt, "flock-net", "p1", labels.Network)

	require.NoError(t, store.Set(coordstore.RequestKey("live-reqid"), "{}", 0))

	id, err := rt.CreateContainer(ctx, runtime.ContainerCreateSpec{
		Name:   "alive",
		Image:  "busybox:latest",
		Labels: map[string]string{labels.Request: "live-reqid"},
	})
	require.NoError(t, err)
	require.NoError(t, rt.StartContainer(ctx, id))

	r := New(rt, store, labels, 0)
	r.Reconcile(ctx)

	containers, err := rt.ListContainers(ctx, map[string]string{})
	require.NoError(t, err)
	assert.Len(t, containers, 1, "a container backed by a live request must survive reconciliation")
}
