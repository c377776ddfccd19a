package store

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.etcd.io/bbolt"

	"github.com/layer-3/paymaster/core"
	"github.com/layer-3/paymaster/ports"
)

var (
	boltData   = []byte("data")
	boltExpiry = []byte("expiry")
)

// BoltStore implements ports.Store backed by bbolt.
//
// Every key gets its own bucket holding two values: data and expiry. The
// expiry is an RFC3339Nano timestamp, or empty when the key never expires.
// The cleanup thread only reads expiry values.
//
// bbolt holds an exclusive file lock, so a BoltStore cannot be shared between
// relay instances. Use the redis backend for that.
type BoltStore struct {
	bdb *bbolt.DB
}

// OpenBoltStore opens (or creates) the database at path and starts the
// expiry sweeper, which stops when ctx is done
func OpenBoltStore(ctx context.Context, path string) (ports.Store, error) {
	bdb, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: can't open bbolt database %s: %w", core.ErrStoreUnavailable, path, err)
	}

	s := &BoltStore{bdb: bdb}
	go s.cleanupThread(ctx)

	return s, nil
}

func (s *BoltStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.bdb.Update(func(tx *bbolt.Tx) error {
		return putValue(tx, key, value, expiryFrom(time.Now(), ttl))
	})
}

func (s *BoltStore) Get(ctx context.Context, key string) (string, error) {
	var result string

	err := s.bdb.View(func(tx *bbolt.Tx) error {
		value, _, ok, err := liveValue(tx, key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %q", core.ErrNotFound, key)
		}

		result = value
		return nil
	})
	if err != nil {
		return "", err
	}

	return result, nil
}

func (s *BoltStore) Consume(ctx context.Context, key string) (bool, error) {
	var consumed bool

	err := s.bdb.Update(func(tx *bbolt.Tx) error {
		_, _, ok, err := liveValue(tx, key)
		if err != nil {
			return err
		}

		if tx.Bucket([]byte(key)) != nil {
			if err := tx.DeleteBucket([]byte(key)); err != nil {
				return fmt.Errorf("can't delete %q: %w", key, err)
			}
		}

		consumed = ok
		return nil
	})
	if err != nil {
		return false, err
	}

	return consumed, nil
}

func (s *BoltStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var result int64

	err := s.bdb.Update(func(tx *bbolt.Tx) error {
		value, expiry, ok, err := liveValue(tx, key)
		if err != nil {
			return err
		}

		var current int64
		if ok {
			current, err = strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("value at %q is not an integer: %w", key, err)
			}
		}

		if expiry.IsZero() {
			expiry = expiryFrom(time.Now(), ttl)
		}

		result = current + 1
		return putValue(tx, key, strconv.FormatInt(result, 10), expiry)
	})
	if err != nil {
		return 0, err
	}

	return result, nil
}

func (s *BoltStore) IncrByFloat(ctx context.Context, key string, delta float64, ttl time.Duration) (float64, error) {
	var result float64

	err := s.bdb.Update(func(tx *bbolt.Tx) error {
		value, expiry, ok, err := liveValue(tx, key)
		if err != nil {
			return err
		}

		var current float64
		if ok {
			current, err = strconv.ParseFloat(value, 64)
			if err != nil {
				return fmt.Errorf("value at %q is not a float: %w", key, err)
			}
		}

		if expiry.IsZero() {
			expiry = expiryFrom(time.Now(), ttl)
		}

		result = current + delta
		return putValue(tx, key, strconv.FormatFloat(result, 'f', -1, 64), expiry)
	})
	if err != nil {
		return 0, err
	}

	return result, nil
}

func (s *BoltStore) Close() error {
	return s.bdb.Close()
}

// liveValue reads key from its bucket. Expired keys read as absent; they are
// left for the cleanup thread or the next write.
func liveValue(tx *bbolt.Tx, key string) (string, time.Time, bool, error) {
	bkt := tx.Bucket([]byte(key))
	if bkt == nil {
		return "", time.Time{}, false, nil
	}

	expiry, err := parseExpiry(bkt.Get(boltExpiry))
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("[unexpected] bad expiry at %q: %w", key, err)
	}

	if !expiry.IsZero() && time.Now().After(expiry) {
		return "", time.Time{}, false, nil
	}

	return string(bkt.Get(boltData)), expiry, true, nil
}

func putValue(tx *bbolt.Tx, key, value string, expiry time.Time) error {
	bkt, err := tx.CreateBucketIfNotExists([]byte(key))
	if err != nil {
		return fmt.Errorf("can't create bucket %q: %w", key, err)
	}

	var expiryStr []byte
	if !expiry.IsZero() {
		expiryStr = []byte(expiry.Format(time.RFC3339Nano))
	}

	if err := bkt.Put(boltExpiry, expiryStr); err != nil {
		return fmt.Errorf("can't write expiry of %q: %w", key, err)
	}

	if err := bkt.Put(boltData, []byte(value)); err != nil {
		return fmt.Errorf("can't write data of %q: %w", key, err)
	}

	return nil
}

func parseExpiry(raw []byte) (time.Time, error) {
	if len(raw) == 0 {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, string(raw))
}

func (s *BoltStore) cleanup() error {
	now := time.Now()

	return s.bdb.Update(func(tx *bbolt.Tx) error {
		var expired [][]byte

		err := tx.ForEach(func(key []byte, bkt *bbolt.Bucket) error {
			expiry, err := parseExpiry(bkt.Get(boltExpiry))
			if err != nil {
				slog.Warn("unreadable expiry during bbolt cleanup", "key", string(key), "err", err)
				return nil
			}

			if !expiry.IsZero() && now.After(expiry) {
				expired = append(expired, append([]byte(nil), key...))
			}

			return nil
		})
		if err != nil {
			return err
		}

		for _, key := range expired {
			if err := tx.DeleteBucket(key); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *BoltStore) cleanupThread(ctx context.Context) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.cleanup(); err != nil {
				slog.Error("error during bbolt cleanup", "err", err)
			}
		}
	}
}
