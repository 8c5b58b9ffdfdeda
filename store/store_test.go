package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backend struct {
	name string
	open func(t *testing.T) Store
}

func backends() []backend {
	return []backend{
		{name: "memory", open: func(t *testing.T) Store { return NewMemory() }},
		{name: "file", open: func(t *testing.T) Store {
			f, err := OpenFile(filepath.Join(t.TempDir(), "creds"), []byte("correct horse"), testFileConfig)
			require.NoError(t, err)
			return f
		}},
		{name: "sqlite", open: func(t *testing.T) Store {
			s, err := OpenSQLite(context.Background(), ":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}},
		{name: "redis", open: func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { rdb.Close() })
			return NewRedis(rdb, "test", "device-1", 0)
		}},
	}
}

// Small argon2 parameters keep the suite fast.
var testFileConfig = FileConfig{Memory: 1024, Time: 1, Parallelism: 1}

func TestStoreContract(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)

			_, err := s.Get(ctx, "accessToken")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Set(ctx, "accessToken", "a1"))
			require.NoError(t, s.Set(ctx, "refreshToken", "r1"))

			v, err := s.Get(ctx, "accessToken")
			require.NoError(t, err)
			assert.Equal(t, "a1", v)

			require.NoError(t, s.Set(ctx, "accessToken", "a2"))
			v, err = s.Get(ctx, "accessToken")
			require.NoError(t, err)
			assert.Equal(t, "a2", v)

			require.NoError(t, s.Delete(ctx, "accessToken"))
			require.NoError(t, s.Delete(ctx, "accessToken"), "delete must be idempotent")
			_, err = s.Get(ctx, "accessToken")
			require.ErrorIs(t, err, ErrNotFound)

			v, err = s.Get(ctx, "refreshToken")
			require.NoError(t, err)
			assert.Equal(t, "r1", v)

			require.NoError(t, DeleteAll(ctx, s, "accessToken", "refreshToken"))
			_, err = s.Get(ctx, "refreshToken")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreRejectsEmptyKey(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)
			_, err := s.Get(ctx, " ")
			assert.ErrorIs(t, err, ErrInvalidKey)
			assert.ErrorIs(t, s.Set(ctx, "", "v"), ErrInvalidKey)
			assert.ErrorIs(t, s.Delete(ctx, ""), ErrInvalidKey)
		})
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)

			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < 10; j++ {
						if err := s.Set(ctx, "accessToken", "v"); err != nil {
							t.Errorf("set: %v", err)
							return
						}
						if _, err := s.Get(ctx, "accessToken"); err != nil {
							t.Errorf("get: %v", err)
							return
						}
					}
				}()
			}
			wg.Wait()
		})
	}
}

type plainStore struct {
	*Memory
	deletes int
}

func (p *plainStore) Delete(ctx context.Context, key string) error {
	p.deletes++
	if key == "broken" {
		return errors.New("boom")
	}
	return p.Memory.Delete(ctx, key)
}

func TestDeleteAllFallsBackToDelete(t *testing.T) {
	ctx := context.Background()
	// Wrapping hides Memory.DeleteAll behind an interface that only exposes Store.
	var s Store = struct{ Store }{&plainStore{Memory: NewMemory()}}
	require.NoError(t, s.Set(ctx, "a", "1"))
	require.NoError(t, s.Set(ctx, "b", "2"))

	err := DeleteAll(ctx, s, "a", "broken", "b")
	require.Error(t, err)

	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound, "remaining keys are still attempted after a failure")
}

func TestMemoryHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewMemory()
	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisNamespacesKeysAndAppliesTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	s := NewRedis(rdb, "", "", time.Hour)
	require.NoError(t, s.Set(ctx, "accessToken", "a1"))

	assert.True(t, mr.Exists("gg:default:accessToken"))
	assert.Equal(t, time.Hour, mr.TTL("gg:default:accessToken"))

	other := NewRedis(rdb, "", "device-2", 0)
	_, err := other.Get(ctx, "accessToken")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	s := NewRedis(rdb, "gg", "d", 0)
	mr.Close()

	_, err := s.Get(context.Background(), "accessToken")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrNotFound)
}
