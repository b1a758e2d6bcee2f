package filestore

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type cachedObject struct {
	data []byte
	info ObjectInfo
}

// WrapLruCache keeps recently read blobs in memory. Writes through the
// wrapper invalidate the key; a read that raced with a write is not cached.
func WrapLruCache(next Store, size int, ttl time.Duration) Store {
	if next == nil || size <= 0 || ttl <= 0 {
		return next
	}
	return &lruStore{
		next:  next,
		cache: expirable.NewLRU[string, *cachedObject](size, nil, ttl),
		gens:  make(map[string]uint64),
	}
}

type lruStore struct {
	next  Store
	cache *expirable.LRU[string, *cachedObject]

	mu   sync.Mutex
	gens map[string]uint64
}

func (l *lruStore) Type() string {
	return l.next.Type()
}

func (l *lruStore) generation(key string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gens[key]
}

func (l *lruStore) invalidate(key string) {
	l.mu.Lock()
	l.gens[key]++
	l.mu.Unlock()
	l.cache.Remove(key)
}

func (l *lruStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	l.invalidate(key)
	err := l.next.Put(ctx, key, r, size)
	l.invalidate(key)
	return err
}

func (l *lruStore) Open(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	if cached, ok := l.cache.Get(key); ok {
		logutil.GetLogger(ctx).Debug("blob cache hit", zap.String("key", key))
		info := cached.info
		return io.NopCloser(bytes.NewReader(cached.data)), &info, nil
	}
	gen := l.generation(key)
	rc, info, err := l.next.Open(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, nil, err
	}
	l.mu.Lock()
	if l.gens[key] == gen {
		l.cache.Add(key, &cachedObject{data: data, info: *info})
	}
	l.mu.Unlock()
	out := *info
	return io.NopCloser(bytes.NewReader(data)), &out, nil
}

func (l *lruStore) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	if cached, ok := l.cache.Get(key); ok {
		info := cached.info
		return &info, nil
	}
	return l.next.Stat(ctx, key)
}
