package events

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/flockd/pkg/coordstore"
	"github.com/cuemby/flockd/pkg/engine"
	"github.com/cuemby/flockd/pkg/network"
	"github.com/cuemby/flockd/pkg/pool"
	"github.com/cuemby/flockd/pkg/runtime"
	"github.com/cuemby/flockd/pkg/specstore"
	"github.com/cuemby/flockd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const oneContainerSpec = `
name: solo
containers:
  - name: web
    image: nginx:latest
`

func TestSubscriberRoutesDieEventToPersistentPool(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flocks.yaml"), []byte(oneContainerSpec), 0644))

	specs, err := specstore.New(dir)
	require.NoError(t, err)
	store, err := coordstore.New("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	rt := runtime.NewFake()
	labels := types.DefaultLabels()
	netPool := network.NewPlainPool(rt, "flock-net", "p1", labels.Network)
	eng := engine.New(rt, store, specs, labels)

	cfg := types.PoolConfig{Name: "p1", Type: types.PoolKindPersist, Duration: time.Minute, MaxSize: 1}
	p := pool.NewPersistentPool(cfg, eng, store, netPool, labels)

	ctx := context.Background()
	reqid, rerr := eng.Request(ctx, "solo", types.RequestOpts{})
	require.Nil(t, rerr)

	res := p.Start(ctx, reqid, nil, nil, false)
	require.Nil(t, res.Err)
	require.NotNil(t, res.Response)
	containerID := res.Response.Containers["web"].ID

	sub := New(rt, map[string]pool.Pool{"p1": p}, labels)
	sub.Start(ctx)
	defer sub.Stop()

	require.NoError(t, rt.StopContainer(ctx, containerID, 0))

	deadline := time.Now().Add(2 * time.Second)
	var valid bool
	for time.Now().Before(deadline) {
		valid, _ = eng.IsValidFlock(ctx, reqid, nil)
		if !valid {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.False(t, valid, "a clean container exit must be routed through to the owning pool and remove the flock")
}

func TestSubscriberSkipsMalformedEvents(t *testing.T) {
	rt := runtime.NewFake()
	labels := types.DefaultLabels()
	sub := New(rt, map[string]pool.Pool{}, labels)

	// Must not panic on events missing the pool or reqid label.
	sub.dispatch(runtime.RuntimeEvent{Status: "die", Actor: "abc", Attrs: map[string]string{}})
	sub.dispatch(runtime.RuntimeEvent{Status: "die", Actor: "abc", Attrs: map[string]string{labels.Pool: "missing"}})
	sub.dispatch(runtime.RuntimeEvent{Status: "other", Actor: "abc"})
}
