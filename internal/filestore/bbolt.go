package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"go.etcd.io/bbolt"

	appErr "github.com/xxxsen/pcdview/internal/pkg/errors"
)

const (
	defaultBlobBucket = "blobs"
	metaBucket        = "blob_meta"
)

type bboltConfig struct {
	Path   string      `json:"path"`
	Bucket string      `json:"bucket"`
	Mode   os.FileMode `json:"mode"`
}

type bboltMeta struct {
	Size  int64 `json:"size"`
	Mtime int64 `json:"mtime"`
}

// bboltStore keeps blobs in a single bbolt file. Each Put is one
// read-write transaction, so data and metadata land together.
type bboltStore struct {
	db     *bbolt.DB
	bucket []byte
}

func init() {
	Register("bbolt", createBboltStore)
}

func createBboltStore(args interface{}) (Store, error) {
	config := &bboltConfig{}
	if err := decodeConfig(args, config); err != nil {
		return nil, err
	}
	if config.Path == "" {
		return nil, fmt.Errorf("bbolt store path is required")
	}
	store, err := NewBboltStore(config.Path, config.Bucket, config.Mode)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func NewBboltStore(path, bucket string, mode os.FileMode) (*bboltStore, error) {
	if bucket == "" {
		bucket = defaultBlobBucket
	}
	if mode == 0 {
		mode = 0o600
	}
	db, err := bbolt.Open(path, mode, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bbolt buckets: %w", err)
	}
	return &bboltStore{db: db, bucket: []byte(bucket)}, nil
}

func (s *bboltStore) Close() error {
	return s.db.Close()
}

func (s *bboltStore) Type() string {
	return "bbolt"
}

func (s *bboltStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	_ = ctx
	if err := validateKey(key); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("short write: read %d of %d bytes", len(data), size)
	}
	meta, err := json.Marshal(bboltMeta{Size: int64(len(data)), Mtime: time.Now().UnixNano()})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(s.bucket).Put([]byte(key), data); err != nil {
			return err
		}
		return tx.Bucket([]byte(metaBucket)).Put([]byte(key), meta)
	})
}

func (s *bboltStore) Open(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	_ = ctx
	if err := validateKey(key); err != nil {
		return nil, nil, err
	}
	var data []byte
	var info *ObjectInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(s.bucket).Get([]byte(key))
		if val == nil {
			return appErr.ErrNotFound
		}
		// bbolt values are only valid inside the transaction.
		data = append([]byte(nil), val...)
		var err error
		info, err = readMeta(tx, key, int64(len(data)))
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), info, nil
}

func (s *bboltStore) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	_ = ctx
	if err := validateKey(key); err != nil {
		return nil, err
	}
	var info *ObjectInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(s.bucket).Get([]byte(key))
		if val == nil {
			return appErr.ErrNotFound
		}
		var err error
		info, err = readMeta(tx, key, int64(len(val)))
		return err
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func readMeta(tx *bbolt.Tx, key string, size int64) (*ObjectInfo, error) {
	info := &ObjectInfo{Key: key, Size: size}
	raw := tx.Bucket([]byte(metaBucket)).Get([]byte(key))
	if raw == nil {
		return info, nil
	}
	var meta bboltMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode blob meta for %s: %w", key, err)
	}
	info.ModTime = time.Unix(0, meta.Mtime)
	return info, nil
}
