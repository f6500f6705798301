// Package hostkeys persists trust-on-first-use SSH host key fingerprints.
package hostkeys

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

var (
	// ErrMismatch is returned when a host presents a key different from the
	// pinned one.
	ErrMismatch = errors.New("host key does not match pinned fingerprint")
)

var hostsBucket = []byte("hosts")

// Entry is the pinned key of one host.
type Entry struct {
	Host        string    `json:"host"`
	KeyType     string    `json:"key_type"`
	Fingerprint string    `json:"fingerprint"`
	PinnedAt    time.Time `json:"pinned_at"`
}

// Store is a bbolt-backed pin store.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

// Open opens (creating when needed) the store at path. The database file is
// locked while open, so callers should Close it as soon as verification ends.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create host key store directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open host key store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(hostsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create hosts bucket: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Verify pins fingerprint for host when the host is unknown and reports
// whether it did so. A known host must present the same fingerprint,
// otherwise ErrMismatch is returned.
func (s *Store) Verify(host, keyType, fingerprint string) (pinned bool, err error) {
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(hostsBucket)

		if data := b.Get([]byte(host)); data != nil {
			var existing Entry
			if err := json.Unmarshal(data, &existing); err != nil {
				return fmt.Errorf("failed to unmarshal entry for %s: %w", host, err)
			}
			if existing.Fingerprint != fingerprint {
				return fmt.Errorf("%w: host %s presented %s %s, pinned %s %s",
					ErrMismatch, host, keyType, fingerprint, existing.KeyType, existing.Fingerprint)
			}
			return nil
		}

		data, err := json.Marshal(Entry{
			Host:        host,
			KeyType:     keyType,
			Fingerprint: fingerprint,
			PinnedAt:    s.now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		pinned = true
		return b.Put([]byte(host), data)
	})
	if err != nil {
		return false, err
	}
	return pinned, nil
}

// List returns all pinned entries sorted by host.
func (s *Store) List() ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(hostsBucket).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("failed to unmarshal entry for %s: %w", k, err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Host < entries[j].Host })
	return entries, nil
}

// Forget removes the pin for host and reports whether one existed.
func (s *Store) Forget(host string) (bool, error) {
	var found bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(hostsBucket)
		if b.Get([]byte(host)) == nil {
			return nil
		}
		found = true
		return b.Delete([]byte(host))
	})
	return found, err
}

func (s *Store) Close() error {
	return s.db.Close()
}
