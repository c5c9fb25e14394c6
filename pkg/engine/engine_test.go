package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/flockd/pkg/coordstore"
	"github.com/cuemby/flockd/pkg/network"
	"github.com/cuemby/flockd/pkg/runtime"
	"github.com/cuemby/flockd/pkg/specstore"
	"github.com/cuemby/flockd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, specYAML string) (*Engine, *runtime.Fake, *coordstore.Store, network.Pool) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flocks.yaml"), []byte(specYAML), 0644))

	specs, err := specstore.New(dir)
	require.NoError(t, err)

	store, err := coordstore.New("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	rt := runtime.NewFake()
	netPool := network.NewPlainPool(rt, "flock-net", "test", "owt.network.managed")

	e := New(rt, store, specs, types.DefaultLabels())
	return e, rt, store, netPool
}

const twoContainerSpec = `
name: test_b
containers:
  - name: web
    image: nginx:latest
    ports:
      http: 80
  - name: worker
    image: busybox:latest
`

func TestRequestAndStartLifecycle(t *testing.T) {
	e, _, _, netPool := newTestEngine(t, twoContainerSpec)
	ctx := context.Background()

	reqid, rerr := e.Request(ctx, "test_b", types.RequestOpts{})
	require.Nil(t, rerr)
	require.NotEmpty(t, reqid)
	assert.Len(t, reqid, 24)

	resp, serr := e.Start(ctx, reqid, nil, nil, false, netPool)
	require.Nil(t, serr)
	require.NotNil(t, resp)
	assert.Len(t, resp.Containers, 2)
	assert.NotEmpty(t, resp.Network)

	web := resp.Containers["web"]
	assert.NotEmpty(t, web.ID)
	assert.Equal(t, "nginx:latest", web.Image)
}

func TestStartIsIdempotent(t *testing.T) {
	e, _, _, netPool := newTestEngine(t, twoContainerSpec)
	ctx := context.Background()

	reqid, rerr := e.Request(ctx, "test_b", types.RequestOpts{})
	require.Nil(t, rerr)

	first, serr := e.Start(ctx, reqid, nil, nil, false, netPool)
	require.Nil(t, serr)

	second, serr := e.Start(ctx, reqid, nil, nil, false, netPool)
	require.Nil(t, serr)

	assert.Equal(t, first.Containers, second.Containers)
	assert.Equal(t, first.Network, second.Network)
}

func TestImageOverrideRejectedWithoutLabelMatch(t *testing.T) {
	spec := `
name: test_override
containers:
  - name: box
    image: labeled/image:latest
    image_label: test.isbox=box
`
	e, rt, _, _ := newTestEngine(t, spec)
	ctx := context.Background()
	rt.SeedImage("unlabeled/image", map[string]string{}, nil)

	_, rerr := e.Request(ctx, "test_override", types.RequestOpts{
		Overrides: map[string]string{"box": "unlabeled/image"},
	})
	require.NotNil(t, rerr)
	assert.Equal(t, types.ErrInvalidImageParam, rerr.Code())
	assert.Equal(t, "unlabeled/image", rerr.Extra["image_passed"])
	assert.Equal(t, "test.isbox=box", rerr.Extra["label_expected"])
}

func TestImageOverrideAcceptedWithLabelMatch(t *testing.T) {
	spec := `
name: test_override
containers:
  - name: box
    image: labeled/image:latest
    image_label: test.isbox=box
`
	e, rt, _, netPool := newTestEngine(t, spec)
	ctx := context.Background()
	rt.SeedImage("labeled/override", map[string]string{"test.isbox": "box"}, nil)

	reqid, rerr := e.Request(ctx, "test_override", types.RequestOpts{
		Overrides: map[string]string{"box": "labeled/override"},
	})
	require.Nil(t, rerr)

	resp, serr := e.Start(ctx, reqid, nil, nil, false, netPool)
	require.Nil(t, serr)
	assert.Equal(t, "labeled/override", resp.Containers["box"].Image)
}

func TestDeferredContainerLifecycle(t *testing.T) {
	spec := `
name: test_deferred
containers:
  - name: web
    image: nginx:latest
  - name: box-p
    image: busybox:latest
    deferred: true
    ports:
      port_a: 9000
`
	e, _, _, netPool := newTestEngine(t, spec)
	ctx := context.Background()

	reqid, rerr := e.Request(ctx, "test_deferred", types.RequestOpts{})
	require.Nil(t, rerr)

	resp, serr := e.Start(ctx, reqid, nil, nil, false, netPool)
	require.Nil(t, serr)
	require.True(t, resp.Containers["box-p"].Deferred)
	assert.Empty(t, resp.Containers["box-p"].ID)
	assert.NotEmpty(t, resp.Containers["web"].ID)

	info, derr := e.StartDeferredContainer(ctx, reqid, "box-p", nil)
	require.Nil(t, derr)
	require.NotEmpty(t, info.ID)
	assert.Contains(t, info.Ports, "port_a")

	again, derr := e.StartDeferredContainer(ctx, reqid, "box-p", nil)
	require.Nil(t, derr)
	assert.Equal(t, info, again, "repeating start_deferred_container must return the same ContainerInfo")
}

func TestRemoveConverges(t *testing.T) {
	e, rt, store, netPool := newTestEngine(t, twoContainerSpec)
	ctx := context.Background()

	reqid, rerr := e.Request(ctx, "test_b", types.RequestOpts{})
	require.Nil(t, rerr)
	_, serr := e.Start(ctx, reqid, nil, nil, false, netPool)
	require.Nil(t, serr)

	rmErr := e.Remove(ctx, reqid, false, 0, netPool)
	require.Nil(t, rmErr)

	containers, err := rt.ListContainers(ctx, map[string]string{"owt.shepherd.reqid": reqid})
	require.NoError(t, err)
	assert.Empty(t, containers)

	_, ok, err := store.Get("req:" + reqid)
	require.NoError(t, err)
	assert.False(t, ok)

	// Idempotent: calling Remove again on an already-removed reqid must not error.
	rmErr = e.Remove(ctx, reqid, false, 0, netPool)
	assert.Nil(t, rmErr)
}

func TestStopThenRemove(t *testing.T) {
	e, _, _, netPool := newTestEngine(t, twoContainerSpec)
	ctx := context.Background()

	reqid, rerr := e.Request(ctx, "test_b", types.RequestOpts{})
	require.Nil(t, rerr)
	_, serr := e.Start(ctx, reqid, nil, nil, false, netPool)
	require.Nil(t, serr)

	stopErr := e.Stop(ctx, reqid, 0)
	require.Nil(t, stopErr)

	valid, verr := e.IsValidFlock(ctx, reqid, nil)
	require.Nil(t, verr)
	assert.True(t, valid, "stopped record must still exist for remove to act on")

	rmErr := e.Remove(ctx, reqid, false, 0, netPool)
	require.Nil(t, rmErr)
}
