package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Name string `json:"name"`
}

func openTestCache(t *testing.T) *Cache {
	c, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMemoize(t *testing.T) {
	c := openTestCache(t)

	calls := 0
	fn := func() (*entry, error) {
		calls++
		return &entry{Name: "naruto"}, nil
	}

	v, hit, err := Memoize(c, "jutsu.show : a", time.Hour, fn)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "naruto", v.Name)

	v, hit, err = Memoize(c, "jutsu.show : a", time.Hour, fn)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "naruto", v.Name)
	assert.Equal(t, 1, calls)
}

func TestMemoize_ErrorIsNotCached(t *testing.T) {
	c := openTestCache(t)
	boom := errors.New("boom")

	_, _, err := Memoize(c, "k", time.Hour, func() (*entry, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	v, hit, err := Memoize(c, "k", time.Hour, func() (*entry, error) { return &entry{Name: "ok"}, nil })
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "ok", v.Name)
}

func TestMemoize_UndecodableEntryIsRecomputed(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("k"), []byte("{not json"))
	}))

	v, hit, err := Memoize(c, "k", time.Hour, func() (*entry, error) { return &entry{Name: "fresh"}, nil })
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "fresh", v.Name)
}

// strictEntry refuses every stored value, like a tier code that is no longer known.
type strictEntry struct {
	Name string `json:"name"`
}

func (s *strictEntry) UnmarshalJSON([]byte) error {
	return errors.New("unsupported value")
}

func TestMemoize_ValueRejectedByDecoderIsRecomputed(t *testing.T) {
	c := openTestCache(t)

	_, _, err := Memoize(c, "k", time.Hour, func() (*entry, error) { return &entry{Name: "old"}, nil })
	require.NoError(t, err)

	v, hit, err := Memoize(c, "k", time.Hour, func() (*strictEntry, error) { return &strictEntry{Name: "fresh"}, nil })
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "fresh", v.Name)
}

func TestForget(t *testing.T) {
	c := openTestCache(t)

	_, _, err := Memoize(c, "k", time.Hour, func() (*entry, error) { return &entry{Name: "old"}, nil })
	require.NoError(t, err)
	require.NoError(t, c.Forget("k"))

	v, hit, err := Memoize(c, "k", time.Hour, func() (*entry, error) { return &entry{Name: "new"}, nil })
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "new", v.Name)
}
