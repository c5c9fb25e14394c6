package coordstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Set("req:abc", `{"id":"abc"}`, 0))

	v, ok, err := s.Get("req:abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"id":"abc"}`, v)
}

func TestExpiry(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Set("req:xyz", "v", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, ok, err := s.Get("req:xyz")
	require.NoError(t, err)
	assert.False(t, ok, "expired key should no longer be visible")
}

func TestPersistRemovesTTL(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Set("req:p", "v", 10*time.Millisecond))
	require.NoError(t, s.Persist("req:p"))
	time.Sleep(30 * time.Millisecond)

	_, ok, err := s.Get("req:p")
	require.NoError(t, err)
	assert.True(t, ok, "Persist should clear the TTL")
}

func TestSetNX(t *testing.T) {
	s := newTestStore(t)
	ok, err := s.SetNX("lock:a", "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX("lock:a", "2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second SetNX on same key must fail")

	v, _, _ := s.Get("lock:a")
	assert.Equal(t, "1", v)
}

func TestHashOps(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.HMSet("up:10.0.0.1", map[string]string{"FOO": "bar", "BAZ": "qux"}))
	require.NoError(t, s.HSet("up:10.0.0.1", "FOO", "overwritten"))

	all, err := s.HGetAll("up:10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"FOO": "overwritten", "BAZ": "qux"}, all)

	v, ok, err := s.HGet("up:10.0.0.1", "BAZ")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "qux", v)
}

func TestIncrBy(t *testing.T) {
	s := newTestStore(t)
	n, err := s.IncrBy("p:fixed:i", "nginx:latest", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.IncrBy("p:fixed:i", "nginx:latest", -1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSetOps(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SAdd("p:all:f", "web", "worker", "web"))

	card, err := s.SCard("p:all:f")
	require.NoError(t, err)
	assert.Equal(t, 2, card)

	members, err := s.SMembers("p:all:f")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"web", "worker"}, members)

	isMember, err := s.SIsMember("p:all:f", "web")
	require.NoError(t, err)
	assert.True(t, isMember)

	require.NoError(t, s.SRem("p:all:f", "web"))
	isMember, err = s.SIsMember("p:all:f", "web")
	require.NoError(t, err)
	assert.False(t, isMember)
}

func TestSPopRemovesMember(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SAdd("n:cached", "net-1"))

	member, ok, err := s.SPop("n:cached")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "net-1", member)

	card, _ := s.SCard("n:cached")
	assert.Equal(t, 0, card)

	_, ok, err = s.SPop("n:cached")
	require.NoError(t, err)
	assert.False(t, ok, "pop on empty set must report no member")
}

func TestZSetOrderingAndRank(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.ZAdd("p:fixed:q", 3, "req-c"))
	require.NoError(t, s.ZAdd("p:fixed:q", 1, "req-a"))
	require.NoError(t, s.ZAdd("p:fixed:q", 2, "req-b"))

	ordered, err := s.ZRange("p:fixed:q", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"req-a", "req-b", "req-c"}, ordered)

	rank, ok, err := s.ZRank("p:fixed:q", "req-b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, rank)

	require.NoError(t, s.ZRem("p:fixed:q", "req-b"))
	ordered, _ = s.ZRange("p:fixed:q", 0, -1)
	assert.Equal(t, []string{"req-a", "req-c"}, ordered)
}

func TestListOps(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RPush("p:persist:wq", "req-1", "req-2", "req-3"))

	length, err := s.LLen("p:persist:wq")
	require.NoError(t, err)
	assert.Equal(t, 3, length)

	v, ok, err := s.LPop("p:persist:wq")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "req-1", v)

	require.NoError(t, s.LRem("p:persist:wq", 0, "req-3"))
	remaining, err := s.LRange("p:persist:wq", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"req-2"}, remaining)
}

func TestKeysPattern(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Set("req:a", "1", 0))
	require.NoError(t, s.Set("req:b", "2", 0))
	require.NoError(t, s.Set("reqp:a", "pool", 0))

	keys, err := s.Keys(KeyPattern("req:"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"req:a", "req:b"}, keys)
}

// TestDurabilityAcrossReopen exercises the bbolt-backed path: a store
// reopened against the same data directory must see everything a
// prior instance wrote (invariant 8 — persisted state survives a
// process restart).
func TestDurabilityAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s1, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s1.Set("req:durable", "alive", 0))
	require.NoError(t, s1.SAdd("p:all:f", "web"))
	require.NoError(t, s1.Close())

	s2, err := New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })

	v, ok, err := s2.Get("req:durable")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "alive", v)

	members, err := s2.SMembers("p:all:f")
	require.NoError(t, err)
	assert.Equal(t, []string{"web"}, members)
}
