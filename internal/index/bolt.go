package index

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	keysBucketName     = []byte("keys")     // <key>=<value>
	countersBucketName = []byte("counters") // <key>=<decimal>
	hashesBucketName   = []byte("hashes")   // nested bucket per hash
)

// Bolt is an Index stored in a local bbolt database. It lets a single node
// run without a Redis server. Counters and hash increments are kept as
// decimal strings so the contents match what Redis would hold.
type Bolt struct {
	db *bolt.DB
}

var _ Index = (*Bolt)(nil)

// OpenBolt creates or opens the database file at path.
func OpenBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.Wrapf(err, "failed to create index directory for %q", path)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open index %q", path)
	}

	b := &Bolt{db: db}
	if err := b.init(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to initialize index")
	}
	return b, nil
}

func (b *Bolt) init() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{keysBucketName, countersBucketName, hashesBucketName} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Bolt) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(keysBucketName).Get([]byte(key))
		if v == nil {
			return ErrNil
		}
		value = append([]byte{}, v...)
		return nil
	})
	return value, err
}

func (b *Bolt) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(keysBucketName).Put([]byte(key), value)
	})
}

func (b *Bolt) Incr(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var n int64
	err := b.db.Update(func(tx *bolt.Tx) (err error) {
		n, err = incrBy(tx.Bucket(countersBucketName), key, 1)
		return err
	})
	return n, err
}

func (b *Bolt) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash := make(map[string][]byte)
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(hashesBucketName).Bucket([]byte(key))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			hash[string(k)] = append([]byte{}, v...)
			return nil
		})
	})
	return hash, err
}

func (b *Bolt) HSet(ctx context.Context, key, field string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.Bucket(hashesBucketName).CreateBucketIfNotExists([]byte(key))
		if err != nil {
			return errors.Wrapf(err, "failed to create hash %q", key)
		}
		return bucket.Put([]byte(field), value)
	})
}

func (b *Bolt) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var n int64
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.Bucket(hashesBucketName).CreateBucketIfNotExists([]byte(key))
		if err != nil {
			return errors.Wrapf(err, "failed to create hash %q", key)
		}
		n, err = incrBy(bucket, field, delta)
		return err
	})
	return n, err
}

func incrBy(bucket *bolt.Bucket, key string, delta int64) (int64, error) {
	var n int64
	if v := bucket.Get([]byte(key)); v != nil {
		parsed, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "value of %q is not an integer", key)
		}
		n = parsed
	}
	n += delta
	if err := bucket.Put([]byte(key), []byte(strconv.FormatInt(n, 10))); err != nil {
		return 0, err
	}
	return n, nil
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
