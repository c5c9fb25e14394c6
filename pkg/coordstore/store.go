// Package coordstore implements the coordination store the flock
// engine and pools rely on for shared state (spec.md §4.2): a
// synchronous KV abstraction with per-key TTLs, hashes, sets, sorted
// sets and lists. Store is a single in-process implementation backed
// by a bbolt file for durability across restarts; there is no remote
// variant in this deployment model (spec.md Non-goals: single node).
package coordstore

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("coordstore")

type kind int

const (
	kindString kind = iota
	kindHash
	kindSet
	kindZSet
	kindList
)

type record struct {
	Kind      kind              `json:"kind"`
	Value     string            `json:"value,omitempty"`
	Hash      map[string]string `json:"hash,omitempty"`
	Set       map[string]bool   `json:"set,omitempty"`
	ZSet      map[string]float64 `json:"zset,omitempty"`
	List      []string          `json:"list,omitempty"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}

func (r *record) expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// Store is the coordination store. It is safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	data map[string]*record
	db   *bolt.DB // nil for a pure in-memory store (used by tests)

	stopCh chan struct{}
}

// New creates a coordination store. If dataDir is empty the store is
// purely in-memory (no durability across restart) — used by tests and
// by fake-runtime-backed integration suites.
func New(dataDir string) (*Store, error) {
	s := &Store{data: make(map[string]*record), stopCh: make(chan struct{})}
	if dataDir != "" {
		db, err := bolt.Open(filepath.Join(dataDir, "coordstore.db"), 0600, nil)
		if err != nil {
			return nil, fmt.Errorf("open coordstore db: %w", err)
		}
		if err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketName)
			return err
		}); err != nil {
			db.Close()
			return nil, fmt.Errorf("create coordstore bucket: %w", err)
		}
		s.db = db
		if err := s.load(); err != nil {
			db.Close()
			return nil, fmt.Errorf("load coordstore: %w", err)
		}
	}
	return s, nil
}

// StartExpirySweep periodically purges expired keys so that entries
// nobody ever Get()s again (e.g. an abandoned req: key) still vanish.
func (s *Store) StartExpirySweep(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweepExpired()
			case <-s.stopCh:
				return
			}
		}
	}()
}

func (s *Store) Close() error {
	close(s.stopCh)
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) sweepExpired() {
	now := time.Now()
	s.mu.Lock()
	var dead []string
	for k, r := range s.data {
		if r.expired(now) {
			dead = append(dead, k)
		}
	}
	for _, k := range dead {
		delete(s.data, k)
	}
	s.mu.Unlock()
	for _, k := range dead {
		s.persist(k, nil)
	}
}

// get returns the record for key, or nil if absent or expired. Caller
// must hold s.mu.
func (s *Store) get(key string) *record {
	r, ok := s.data[key]
	if !ok {
		return nil
	}
	if r.expired(time.Now()) {
		delete(s.data, key)
		return nil
	}
	return r
}

// --- string ---

func (s *Store) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(key)
	if r == nil {
		return "", false, nil
	}
	return r.Value, true, nil
}

// Set stores value under key. ttl of zero means no expiry.
func (s *Store) Set(key, value string, ttl time.Duration) error {
	s.mu.Lock()
	r := &record{Kind: kindString, Value: value}
	setTTL(r, ttl)
	s.data[key] = r
	s.mu.Unlock()
	return s.persist(key, r)
}

// SetNX sets key to value only if it does not already exist, returning
// whether the set happened (Redis SETNX semantics).
func (s *Store) SetNX(key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	if s.get(key) != nil {
		s.mu.Unlock()
		return false, nil
	}
	r := &record{Kind: kindString, Value: value}
	setTTL(r, ttl)
	s.data[key] = r
	s.mu.Unlock()
	return true, s.persist(key, r)
}

func (s *Store) Del(key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return s.persist(key, nil)
}

func (s *Store) Exists(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(key) != nil, nil
}

func (s *Store) Expire(key string, ttl time.Duration) error {
	s.mu.Lock()
	r := s.get(key)
	if r == nil {
		s.mu.Unlock()
		return nil
	}
	setTTL(r, ttl)
	s.mu.Unlock()
	return s.persist(key, r)
}

func (s *Store) Persist(key string) error {
	s.mu.Lock()
	r := s.get(key)
	if r == nil {
		s.mu.Unlock()
		return nil
	}
	r.ExpiresAt = nil
	s.mu.Unlock()
	return s.persist(key, r)
}

// --- hash ---

func (s *Store) HGet(key, field string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(key)
	if r == nil || r.Hash == nil {
		return "", false, nil
	}
	v, ok := r.Hash[field]
	return v, ok, nil
}

func (s *Store) HSet(key, field, value string) error {
	return s.HMSet(key, map[string]string{field: value})
}

func (s *Store) HMSet(key string, fields map[string]string) error {
	s.mu.Lock()
	r := s.get(key)
	if r == nil {
		r = &record{Kind: kindHash, Hash: make(map[string]string)}
		s.data[key] = r
	}
	if r.Hash == nil {
		r.Hash = make(map[string]string)
	}
	for f, v := range fields {
		r.Hash[f] = v
	}
	s.mu.Unlock()
	return s.persist(key, r)
}

func (s *Store) HGetAll(key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(key)
	if r == nil || r.Hash == nil {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(r.Hash))
	for k, v := range r.Hash {
		out[k] = v
	}
	return out, nil
}

// IncrBy atomically increments hash field by n and returns the new
// value (spec.md's incrby(hash, field, n)).
func (s *Store) IncrBy(key, field string, n int64) (int64, error) {
	s.mu.Lock()
	r := s.get(key)
	if r == nil {
		r = &record{Kind: kindHash, Hash: make(map[string]string)}
		s.data[key] = r
	}
	if r.Hash == nil {
		r.Hash = make(map[string]string)
	}
	var cur int64
	fmt.Sscanf(r.Hash[field], "%d", &cur)
	cur += n
	r.Hash[field] = fmt.Sprintf("%d", cur)
	s.mu.Unlock()
	return cur, s.persist(key, r)
}

// --- set ---

func (s *Store) SAdd(key string, members ...string) error {
	s.mu.Lock()
	r := s.get(key)
	if r == nil {
		r = &record{Kind: kindSet, Set: make(map[string]bool)}
		s.data[key] = r
	}
	if r.Set == nil {
		r.Set = make(map[string]bool)
	}
	for _, m := range members {
		r.Set[m] = true
	}
	s.mu.Unlock()
	return s.persist(key, r)
}

func (s *Store) SRem(key string, members ...string) error {
	s.mu.Lock()
	r := s.get(key)
	if r != nil && r.Set != nil {
		for _, m := range members {
			delete(r.Set, m)
		}
	}
	s.mu.Unlock()
	return s.persist(key, r)
}

func (s *Store) SIsMember(key, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(key)
	if r == nil || r.Set == nil {
		return false, nil
	}
	return r.Set[member], nil
}

func (s *Store) SMembers(key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(key)
	if r == nil || r.Set == nil {
		return nil, nil
	}
	out := make([]string, 0, len(r.Set))
	for m := range r.Set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) SCard(key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(key)
	if r == nil || r.Set == nil {
		return 0, nil
	}
	return len(r.Set), nil
}

func (s *Store) SPop(key string) (string, bool, error) {
	s.mu.Lock()
	r := s.get(key)
	if r == nil || len(r.Set) == 0 {
		s.mu.Unlock()
		return "", false, nil
	}
	var member string
	for m := range r.Set {
		member = m
		break
	}
	delete(r.Set, member)
	s.mu.Unlock()
	return member, true, s.persist(key, r)
}

func (s *Store) SRandMember(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(key)
	if r == nil || len(r.Set) == 0 {
		return "", false, nil
	}
	for m := range r.Set {
		return m, true, nil
	}
	return "", false, nil
}

// --- sorted set ---

func (s *Store) ZAdd(key string, score float64, member string) error {
	s.mu.Lock()
	r := s.get(key)
	if r == nil {
		r = &record{Kind: kindZSet, ZSet: make(map[string]float64)}
		s.data[key] = r
	}
	if r.ZSet == nil {
		r.ZSet = make(map[string]float64)
	}
	r.ZSet[member] = score
	s.mu.Unlock()
	return s.persist(key, r)
}

func (s *Store) ZRem(key, member string) error {
	s.mu.Lock()
	r := s.get(key)
	if r != nil && r.ZSet != nil {
		delete(r.ZSet, member)
	}
	s.mu.Unlock()
	return s.persist(key, r)
}

// ZRank returns member's 0-based rank in ascending score order.
func (s *Store) ZRank(key, member string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(key)
	if r == nil || r.ZSet == nil {
		return 0, false, nil
	}
	if _, ok := r.ZSet[member]; !ok {
		return 0, false, nil
	}
	ordered := zsetOrdered(r.ZSet)
	for i, m := range ordered {
		if m == member {
			return i, true, nil
		}
	}
	return 0, false, nil
}

// ZRange returns members in [start, stop] (inclusive, 0-based, Redis
// semantics) ordered by ascending score.
func (s *Store) ZRange(key string, start, stop int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(key)
	if r == nil || r.ZSet == nil {
		return nil, nil
	}
	ordered := zsetOrdered(r.ZSet)
	return sliceRange(ordered, start, stop), nil
}

func zsetOrdered(zset map[string]float64) []string {
	members := make([]string, 0, len(zset))
	for m := range zset {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		if zset[members[i]] != zset[members[j]] {
			return zset[members[i]] < zset[members[j]]
		}
		return members[i] < members[j]
	})
	return members
}

// --- list ---

func (s *Store) RPush(key string, values ...string) error {
	s.mu.Lock()
	r := s.get(key)
	if r == nil {
		r = &record{Kind: kindList}
		s.data[key] = r
	}
	r.List = append(r.List, values...)
	s.mu.Unlock()
	return s.persist(key, r)
}

func (s *Store) LPop(key string) (string, bool, error) {
	s.mu.Lock()
	r := s.get(key)
	if r == nil || len(r.List) == 0 {
		s.mu.Unlock()
		return "", false, nil
	}
	v := r.List[0]
	r.List = r.List[1:]
	s.mu.Unlock()
	return v, true, s.persist(key, r)
}

func (s *Store) LRange(key string, start, stop int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(key)
	if r == nil {
		return nil, nil
	}
	return sliceRange(r.List, start, stop), nil
}

// LRem removes up to count occurrences of value (count<=0 means all).
func (s *Store) LRem(key string, count int, value string) error {
	s.mu.Lock()
	r := s.get(key)
	if r == nil {
		s.mu.Unlock()
		return nil
	}
	out := r.List[:0:0]
	removed := 0
	for _, v := range r.List {
		if v == value && (count <= 0 || removed < count) {
			removed++
			continue
		}
		out = append(out, v)
	}
	r.List = out
	s.mu.Unlock()
	return s.persist(key, r)
}

func (s *Store) LLen(key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(key)
	if r == nil {
		return 0, nil
	}
	return len(r.List), nil
}

// --- keyspace ---

// Keys returns all live keys matching a glob pattern in filepath.Match
// syntax ("*", "?" and character classes).
func (s *Store) Keys(pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []string
	for k, r := range s.data {
		if r.expired(now) {
			continue
		}
		ok, err := filepath.Match(pattern, k)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		if ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func setTTL(r *record, ttl time.Duration) {
	if ttl <= 0 {
		r.ExpiresAt = nil
		return
	}
	t := time.Now().Add(ttl)
	r.ExpiresAt = &t
}

func sliceRange(s []string, start, stop int) []string {
	n := len(s)
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil
	}
	out := make([]string, stop-start+1)
	copy(out, s[start:stop+1])
	return out
}
