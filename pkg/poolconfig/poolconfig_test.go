package poolconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
default_pool: standard
pools:
  - name: standard
    type: all
    duration: 1.2s
  - name: burst
    type: fixed
    duration: 30s
    max_size: 3
    expire_check: 1s
  - name: sticky
    type: persist
    duration: 2s
    max_size: 3
    wait_ping_ttl: 5s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "standard", cfg.DefaultPool)
	require.Len(t, cfg.Pools, 3)

	burst, ok := cfg.Get("burst")
	require.True(t, ok)
	assert.Equal(t, 3, burst.MaxSize)
	assert.Equal(t, time.Second, burst.ExpireCheck)
}

func TestLoadRejectsUnknownPoolType(t *testing.T) {
	path := writeConfig(t, `
pools:
  - name: bad
    type: bogus
    duration: 1s
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingMaxSizeForFixed(t *testing.T) {
	path := writeConfig(t, `
pools:
  - name: burst
    type: fixed
    duration: 1s
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "max_size")
}

func TestLoadRejectsDuplicatePoolNames(t *testing.T) {
	path := writeConfig(t, `
pools:
  - name: dup
    type: all
    duration: 1s
  - name: dup
    type: all
    duration: 1s
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "duplicate")
}

func TestLoadRejectsUnknownDefaultPool(t *testing.T) {
	path := writeConfig(t, `
default_pool: missing
pools:
  - name: standard
    type: all
    duration: 1s
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "default_pool")
}
