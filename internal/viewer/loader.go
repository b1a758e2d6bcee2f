package viewer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/pcdview/internal/model"
	appErr "github.com/xxxsen/pcdview/internal/pkg/errors"
)

const DefaultMIMEType = "text/plain"

// Decoder turns raw bytes into a renderable cloud. Failures are
// *errors.DecodeError.
type Decoder interface {
	Decode(name string, data []byte) (*model.PointCloud, error)
}

// HTTPClient abstracts the transport so tests can count requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// LocalHandle is a file the user picked locally.
type LocalHandle interface {
	Name() string
	ModTime() time.Time
	Open() (io.ReadCloser, error)
}

type FileHandle struct {
	path string
	info os.FileInfo
}

func NewFileHandle(p string) (*FileHandle, error) {
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("stat %s: %w", p, appErr.ErrNotFound)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory: %w", p, appErr.ErrInvalid)
	}
	return &FileHandle{path: p, info: info}, nil
}

func (f *FileHandle) Name() string {
	return filepath.Base(f.path)
}

func (f *FileHandle) ModTime() time.Time {
	return f.info.ModTime()
}

func (f *FileHandle) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}

// LoadResult pairs the exact bytes that were read with their decoded form.
type LoadResult struct {
	Raw   *model.RawAsset
	Cloud *model.PointCloud
}

// Loader reads and decodes assets. It never touches the scene; Session
// applies results.
type Loader struct {
	decoder Decoder
	client  HTTPClient
	maxSize int64
}

type LoaderOption func(*Loader)

// WithMaxSize rejects assets larger than n bytes.
func WithMaxSize(n int64) LoaderOption {
	return func(l *Loader) {
		l.maxSize = n
	}
}

func NewLoader(decoder Decoder, client HTTPClient, opts ...LoaderOption) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	l := &Loader{decoder: decoder, client: client}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader) LoadFromLocalHandle(ctx context.Context, h LocalHandle) (*LoadResult, error) {
	rc, err := h.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", h.Name(), err)
	}
	defer rc.Close()
	data, err := l.readAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", h.Name(), err)
	}
	return l.decode(ctx, &model.RawAsset{
		Name:     h.Name(),
		Size:     int64(len(data)),
		ModTime:  h.ModTime(),
		MIMEType: DefaultMIMEType,
		Data:     data,
	})
}

// LoadFromRemoteURL probes the URL first; a 404 on the probe means the slot is
// empty and no second request is made.
func (l *Loader) LoadFromRemoteURL(ctx context.Context, rawURL string) (*LoadResult, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("url", rawURL))
	present, err := l.probe(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if !present {
		logger.Info("remote asset absent")
		return nil, fmt.Errorf("remote asset %s: %w", rawURL, appErr.ErrNotFound)
	}
	resp, err := l.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("remote asset %s vanished: %w", rawURL, appErr.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	data, err := l.readAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = DefaultMIMEType
	}
	modTime := time.Now()
	if lm, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		modTime = lm
	}
	logger.Debug("remote asset fetched", zap.Int("size", len(data)))
	return l.decode(ctx, &model.RawAsset{
		Name:     nameFromURL(rawURL),
		Size:     int64(len(data)),
		ModTime:  modTime,
		MIMEType: mimeType,
		Data:     data,
	})
}

func (l *Loader) LoadFromBuffer(ctx context.Context, name string, data []byte) (*LoadResult, error) {
	if l.maxSize > 0 && int64(len(data)) > l.maxSize {
		return nil, fmt.Errorf("%s has %d bytes: %w", name, len(data), appErr.ErrTooLarge)
	}
	return l.decode(ctx, &model.RawAsset{
		Name:     name,
		Size:     int64(len(data)),
		ModTime:  time.Now(),
		MIMEType: DefaultMIMEType,
		Data:     append([]byte(nil), data...),
	})
}

func (l *Loader) probe(ctx context.Context, rawURL string) (bool, error) {
	resp, err := l.get(ctx, rawURL)
	if err != nil {
		return false, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode != http.StatusNotFound, nil
}

func (l *Loader) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", rawURL, appErr.ErrInvalid)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}
	return resp, nil
}

func (l *Loader) readAll(r io.Reader) ([]byte, error) {
	if l.maxSize <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, l.maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > l.maxSize {
		return nil, appErr.ErrTooLarge
	}
	return data, nil
}

func (l *Loader) decode(ctx context.Context, raw *model.RawAsset) (*LoadResult, error) {
	cloud, err := l.decoder.Decode(raw.Name, raw.Data)
	if err != nil {
		logutil.GetLogger(ctx).Warn("decode asset failed", zap.String("name", raw.Name), zap.Error(err))
		return nil, err
	}
	return &LoadResult{Raw: raw, Cloud: cloud}, nil
}

func nameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "remote"
	}
	return path.Base(u.Path)
}
