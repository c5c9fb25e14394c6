package coordstore

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// persist mirrors one key's current record to the bbolt-backed WAL. A
// nil record deletes the key. No-op for a pure in-memory store.
func (s *Store) persist(key string, r *record) error {
	if s.db == nil {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if r == nil {
			return b.Delete([]byte(key))
		}
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal record %s: %w", key, err)
		}
		return b.Put([]byte(key), data)
	})
}

// load populates the in-memory map from the bbolt file at startup,
// dropping anything that already expired while the process was down.
func (s *Store) load() error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		now := time.Now()
		return b.ForEach(func(k, v []byte) error {
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("unmarshal record %s: %w", k, err)
			}
			if r.expired(now) {
				return nil
			}
			s.data[string(k)] = &r
			return nil
		})
	})
}
