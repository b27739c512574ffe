// Package errorlog implements the optional Error-Log Watcher: it picks
// up externally-sourced error-log objects, matches them against a
// compile-time allowlist, and requests a BMC dump for each match
// exactly once. The "already actioned" set lives in a bbolt bucket;
// corruption is handled by deleting the file and starting empty, since
// losing the dedup set only risks a handful of duplicate dumps rather
// than any real data loss.
package errorlog

import (
	"encoding/binary"
	"os"

	"go.etcd.io/bbolt"
)

var actionedBucketKey = []byte("actioned")

// Store persists the set of external error-log ids already acted on.
type Store struct {
	db *bbolt.DB
}

// OpenStore opens (creating if absent) the bbolt file at path. A
// corrupt file is deleted and recreated empty rather than treated as a
// fatal startup error: losing the dedup set only risks a handful of
// duplicate dumps, not data loss.
func OpenStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		if removeErr := os.Remove(path); removeErr == nil {
			db, err = bbolt.Open(path, 0o600, nil)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(actionedBucketKey)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Seen reports whether id has already been recorded as actioned.
func (s *Store) Seen(id uint32) (bool, error) {
	var seen bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		seen = tx.Bucket(actionedBucketKey).Get(idKey(id)) != nil
		return nil
	})
	return seen, err
}

// MarkActioned records id as having already caused a dump.
func (s *Store) MarkActioned(id uint32) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(actionedBucketKey).Put(idKey(id), []byte{1})
	})
}

func idKey(id uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, id)
	return b
}
