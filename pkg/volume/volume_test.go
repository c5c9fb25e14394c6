package volume

import (
	"context"
	"testing"

	"github.com/cuemby/flockd/pkg/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestName(t *testing.T) {
	assert.Equal(t, "vol-data-abc123", Name("data", "abc123"))
}

func TestCreateAllLabelsEveryVolume(t *testing.T) {
	rt := runtime.NewFake()
	ctx := context.Background()

	err := CreateAll(ctx, rt, map[string]string{"data": "/data", "cache": "/cache"}, "req1", "owt.shepherd.reqid")
	require.NoError(t, err)

	names, err := rt.ListVolumes(ctx, map[string]string{"owt.shepherd.reqid": "req1"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"vol-data-req1", "vol-cache-req1"}, names)
}

func TestPruneForRequestRemovesLabeledVolumes(t *testing.T) {
	rt := runtime.NewFake()
	ctx := context.Background()
	require.NoError(t, rt.CreateVolume(ctx, "vol-data-req1", map[string]string{"owt.shepherd.reqid": "req1"}))
	require.NoError(t, rt.CreateVolume(ctx, "vol-data-req2", map[string]string{"owt.shepherd.reqid": "req2"}))

	PruneForRequest(ctx, rt, "req1", "owt.shepherd.reqid", 1)

	names, err := rt.ListVolumes(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"vol-data-req2"}, names)
}
