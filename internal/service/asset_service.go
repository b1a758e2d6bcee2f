package service

import (
	"bufio"
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/pcdview/internal/filestore"
	"github.com/xxxsen/pcdview/internal/model"
	appErr "github.com/xxxsen/pcdview/internal/pkg/errors"
)

// AssetService is the server-side asset slot store. Every name is an
// independent slot; writes to one name are serialized.
type AssetService struct {
	store filestore.Store
	locks *keyedMutex
}

func NewAssetService(store filestore.Store) *AssetService {
	return &AssetService{store: store, locks: newKeyedMutex()}
}

// Store writes r under name. With overwrite false an occupied slot fails with
// ErrConflict and nothing is written.
func (s *AssetService) Store(ctx context.Context, name string, r io.Reader, size int64, overwrite bool) error {
	if err := validateName(name); err != nil {
		return err
	}
	unlock := s.locks.Lock(name)
	defer unlock()

	logger := logutil.GetLogger(ctx).With(zap.String("asset", name), zap.Int64("size", size), zap.Bool("overwrite", overwrite))
	if !overwrite {
		exists, err := s.exists(ctx, name)
		if err != nil {
			return err
		}
		if exists {
			logger.Warn("asset store rejected: slot occupied")
			return appErr.ErrConflict
		}
	}
	if err := s.store.Put(ctx, name, r, size); err != nil {
		logger.Error("asset store failed", zap.Error(err))
		return err
	}
	logger.Info("asset stored")
	return nil
}

// Fetch opens the blob stored under name. The caller closes the reader.
func (s *AssetService) Fetch(ctx context.Context, name string) (io.ReadCloser, *model.AssetInfo, error) {
	if err := validateName(name); err != nil {
		return nil, nil, err
	}
	rc, obj, err := s.store.Open(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	br := bufio.NewReader(rc)
	head, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		_ = rc.Close()
		return nil, nil, err
	}
	info := toAssetInfo(obj, detectContentType(name, head))
	return &bufferedReadCloser{Reader: br, closer: rc}, info, nil
}

func (s *AssetService) Exists(ctx context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	return s.exists(ctx, name)
}

// Info reports slot metadata without transferring the blob.
func (s *AssetService) Info(ctx context.Context, name string) (*model.AssetInfo, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	obj, err := s.store.Stat(ctx, name)
	if err != nil {
		return nil, err
	}
	return toAssetInfo(obj, detectContentType(name, nil)), nil
}

func (s *AssetService) exists(ctx context.Context, name string) (bool, error) {
	_, err := s.store.Stat(ctx, name)
	if err == nil {
		return true, nil
	}
	if appErr.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\`) {
		return appErr.ErrInvalid
	}
	return nil
}

func toAssetInfo(obj *filestore.ObjectInfo, contentType string) *model.AssetInfo {
	info := &model.AssetInfo{Name: obj.Key, Size: obj.Size, ContentType: contentType}
	if !obj.ModTime.IsZero() {
		info.Mtime = obj.ModTime.Unix()
	}
	return info
}

// assetTypes pins formats whose extension the system mime table gets wrong
// (.pcd is registered as Kodak Photo CD on most distributions).
var assetTypes = map[string]string{
	".pcd": "text/plain; charset=utf-8",
}

func detectContentType(name string, head []byte) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := assetTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	if len(head) == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(head)
}

type bufferedReadCloser struct {
	*bufio.Reader
	closer io.Closer
}

func (b *bufferedReadCloser) Close() error {
	return b.closer.Close()
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free and returns the matching unlock.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
