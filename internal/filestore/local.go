package filestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	appErr "github.com/xxxsen/pcdview/internal/pkg/errors"
)

type localConfig struct {
	Dir string `json:"dir"`
}

type localStore struct {
	dir string
}

func init() {
	Register("local", createLocalStore)
}

func createLocalStore(args interface{}) (Store, error) {
	config := &localConfig{}
	if err := decodeConfig(args, config); err != nil {
		return nil, err
	}
	if config.Dir == "" {
		return nil, fmt.Errorf("local store dir is required")
	}
	return NewLocalStore(config.Dir), nil
}

func NewLocalStore(dir string) Store {
	return &localStore{dir: dir}
}

func (s *localStore) Type() string {
	return "local"
}

// Put stages the bytes next to the target and renames over it.
func (s *localStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	_ = ctx
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.ensureDir(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, "."+key+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()
	written, err := io.Copy(tmp, r)
	if err != nil {
		return err
	}
	if size >= 0 && written != size {
		return fmt.Errorf("short write: wrote %d of %d bytes", written, size)
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, key)); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *localStore) Open(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	_ = ctx
	if err := validateKey(key); err != nil {
		return nil, nil, err
	}
	file, err := os.Open(filepath.Join(s.dir, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, appErr.ErrNotFound
		}
		return nil, nil, err
	}
	st, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, nil, err
	}
	return file, &ObjectInfo{Key: key, Size: st.Size(), ModTime: st.ModTime()}, nil
}

func (s *localStore) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	_ = ctx
	if err := validateKey(key); err != nil {
		return nil, err
	}
	st, err := os.Stat(filepath.Join(s.dir, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	if st.IsDir() {
		return nil, fmt.Errorf("file key %q is a directory", key)
	}
	return &ObjectInfo{Key: key, Size: st.Size(), ModTime: st.ModTime()}, nil
}

func (s *localStore) ensureDir() error {
	return os.MkdirAll(s.dir, 0o755)
}
