// Package cache keeps a journal of builds per shader crate in BoltDB.
//
// The journal is a record of what happened, not an input to decisions: the
// daemon always rebuilds on start and compares fingerprints in memory. It
// backs the history and clean commands.
//
// Layout:
//
//	builds/                  top level bucket
//	  <crate path>/          one nested bucket per crate
//	    <seq, 8 bytes BE>    CBOR encoded Entry
package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"
)

const (
	// DefaultCacheDir is the default cache directory name, inside the crate
	DefaultCacheDir = ".rust-gpu-cache"

	// bucketName is the BoltDB bucket name for journal entries
	bucketName = "builds"

	// MaxEntries is the number of entries kept per crate
	MaxEntries = 500
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano

	var err error
	if encMode, err = opts.EncMode(); err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}

	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic("cache: CBOR decoder initialization failed: " + err.Error())
	}
}

// Cache is the build journal
type Cache struct {
	db   *bbolt.DB
	root string // Directory holding cache.db
}

// New opens the journal in cacheDir
// If cacheDir is empty, uses DefaultCacheDir in current working directory
func New(cacheDir string) (*Cache, error) {
	if cacheDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}

		cacheDir = filepath.Join(cwd, DefaultCacheDir)
	}

	// Ensure cache directory exists
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	// A running daemon holds the lock; don't wait on it forever
	db, err := bbolt.Open(filepath.Join(cacheDir, "cache.db"), 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		if errors.Is(err, bolterrors.ErrTimeout) {
			return nil, fmt.Errorf("cache database is locked (is a daemon running for this crate?): %w", err)
		}
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}

	return &Cache{
		db:   db,
		root: cacheDir,
	}, nil
}

// Close closes the cache database
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}

	return nil
}

// Path returns the database file path
func (c *Cache) Path() string {
	return filepath.Join(c.root, "cache.db")
}

func seqKey(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}

// Record appends an entry for entry.Crate and assigns its Seq
func (c *Cache) Record(entry *Entry) error {
	if entry.Crate == "" {
		return fmt.Errorf("journal entry has no crate")
	}

	err := c.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket([]byte(bucketName)).CreateBucketIfNotExists([]byte(entry.Crate))
		if err != nil {
			return err
		}

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		entry.Seq = seq

		data, err := encMode.Marshal(entry)
		if err != nil {
			return err
		}

		if err := b.Put(seqKey(seq), data); err != nil {
			return err
		}

		return prune(b, MaxEntries)
	})
	if err != nil {
		return fmt.Errorf("failed to record build: %w", err)
	}

	return nil
}

// prune deletes the oldest entries beyond keep
func prune(b *bbolt.Bucket, keep int) error {
	excess := countKeys(b) - keep
	if excess <= 0 {
		return nil
	}

	var stale [][]byte
	cur := b.Cursor()
	for k, _ := cur.First(); k != nil && len(stale) < excess; k, _ = cur.Next() {
		stale = append(stale, append([]byte(nil), k...))
	}

	for _, k := range stale {
		if err := b.Delete(k); err != nil {
			return err
		}
	}

	return nil
}

// countKeys walks the bucket; Bucket.Stats ignores writes pending in the
// current transaction
func countKeys(b *bbolt.Bucket) int {
	n := 0
	cur := b.Cursor()
	for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
		n++
	}

	return n
}

// List returns up to limit entries for crate, newest first. A limit of zero
// or less returns every entry.
func (c *Cache) List(crate string, limit int) ([]Entry, error) {
	var entries []Entry

	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName)).Bucket([]byte(crate))
		if b == nil {
			return nil
		}

		cur := b.Cursor()
		for k, v := cur.Last(); k != nil; k, v = cur.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}

			var e Entry
			if err := decMode.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decoding entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			entries = append(entries, e)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// LastSuccess returns the newest successful entry for crate
// Returns nil if no build has succeeded
func (c *Cache) LastSuccess(crate string) (*Entry, error) {
	var found *Entry

	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName)).Bucket([]byte(crate))
		if b == nil {
			return nil
		}

		cur := b.Cursor()
		for _, v := cur.Last(); v != nil; _, v = cur.Prev() {
			var e Entry
			if err := decMode.Unmarshal(v, &e); err != nil {
				return err
			}

			if e.Success() {
				found = &e
				return nil
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return found, nil
}

// Crates returns every crate with recorded builds
func (c *Cache) Crates() ([]string, error) {
	var crates []string

	err := c.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEachBucket(func(k []byte) error {
			crates = append(crates, string(k))
			return nil
		})
	})

	return crates, err
}

// Clear removes the entries of crate, or every entry when crate is empty
func (c *Cache) Clear(crate string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		if crate != "" {
			err := tx.Bucket([]byte(bucketName)).DeleteBucket([]byte(crate))
			if errors.Is(err, bolterrors.ErrBucketNotFound) {
				return nil
			}
			return err
		}

		if err := tx.DeleteBucket([]byte(bucketName)); err != nil {
			return err
		}

		_, err := tx.CreateBucket([]byte(bucketName))
		return err
	})
}

// Stats returns the number of entries and the database size in bytes
func (c *Cache) Stats() (int, int64, error) {
	var count int

	err := c.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEachBucket(func(k []byte) error {
			count += countKeys(tx.Bucket([]byte(bucketName)).Bucket(k))
			return nil
		})
	})
	if err != nil {
		return 0, 0, err
	}

	info, err := os.Stat(c.Path())
	if err != nil {
		return count, 0, nil
	}

	return count, info.Size(), nil
}
