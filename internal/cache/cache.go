package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ogero/jutsu-dl/internal/common"
)

// errUndecodable marks a stored value that no longer decodes into the requested type.
var errUndecodable = errors.New("undecodable cache entry")

// Cache is a disk-backed key/value store for memoized site lookups.
type Cache struct {
	db *badger.DB
}

// Open opens (or creates) a cache at dir. An empty dir keeps everything in memory.
func Open(dir string) (*Cache, error) {
	opts := badger.DefaultOptions(dir).
		WithNumVersionsToKeep(0).
		WithValueLogFileSize(1024 * 1024 * 100).
		WithLogger(&l{})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to badger.Open: %w", err)
	}

	return &Cache{db: db}, nil
}

// Memoize retrieves a cached value for the specified cacheKey.
// If the value is present and decodes into V, it is returned and hit is true. Otherwise fn
// is called to compute the value, which is then stored with the specified ttl and returned.
// A value that no longer decodes is treated as a miss and overwritten.
func Memoize[V any](c *Cache, cacheKey string, ttl time.Duration, fn func() (*V, error)) (value *V, hit bool, err error) {

	value = new(V)

	err = c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(cacheKey))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, value); err != nil {
				return fmt.Errorf("%w: %w", errUndecodable, err)
			}
			return nil
		})
	})
	switch {
	case err == nil:
		return value, true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
	case errors.Is(err, errUndecodable):
		common.Log.Warn("Discarding undecodable cache entry", "key", cacheKey, "err", err)
		value = nil
	default:
		return nil, false, fmt.Errorf("failed to get from cache: %w", err)
	}

	value, err = fn()
	if err != nil {
		return nil, false, err
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		valueJSONBytes, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to json.Marshal: %w", err)
		}
		entry := badger.NewEntry([]byte(cacheKey), valueJSONBytes).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to store on cache: %w", err)
	}

	return value, false, nil
}

// Forget removes cacheKey from the cache.
func (c *Cache) Forget(cacheKey string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(cacheKey))
	})
}

// Close closes the cache DB. It's crucial to call it to ensure all the pending updates make their way to disk. Calling Close multiple times would still only close the DB once.
func (c *Cache) Close() error {
	return c.db.Close()
}

type l struct{}

func (l *l) Errorf(s string, i ...interface{}) {
	common.Log.Error(fmt.Sprintf(s, i...), "component", "badger")
}

func (l *l) Warningf(s string, i ...interface{}) {
	common.Log.Warn(fmt.Sprintf(s, i...), "component", "badger")
}

func (l *l) Infof(s string, i ...interface{}) {
	common.Log.Debug(fmt.Sprintf(s, i...), "component", "badger")
}

func (l *l) Debugf(s string, i ...interface{}) {
	common.Log.Debug(fmt.Sprintf(s, i...), "component", "badger")
}
