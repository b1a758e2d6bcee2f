package viewer

import (
	"context"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/pcdview/internal/model"
)

// Session owns the current RawAsset and applies load results to the scene.
// A failed load leaves both untouched; among successful loads the last one to
// complete wins.
type Session struct {
	loader *Loader
	scene  *Scene

	mu      sync.Mutex
	current *model.RawAsset
}

func NewSession(loader *Loader, scene *Scene) *Session {
	return &Session{loader: loader, scene: scene}
}

func (s *Session) Scene() *Scene {
	return s.scene
}

// Current returns the retained asset, or nil before the first load.
func (s *Session) Current() *model.RawAsset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) LoadLocal(ctx context.Context, h LocalHandle) (*LoadResult, error) {
	res, err := s.loader.LoadFromLocalHandle(ctx, h)
	if err != nil {
		return nil, err
	}
	return res, s.apply(ctx, res)
}

func (s *Session) LoadRemote(ctx context.Context, rawURL string) (*LoadResult, error) {
	res, err := s.loader.LoadFromRemoteURL(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return res, s.apply(ctx, res)
}

func (s *Session) LoadBuffer(ctx context.Context, name string, data []byte) (*LoadResult, error) {
	res, err := s.loader.LoadFromBuffer(ctx, name, data)
	if err != nil {
		return nil, err
	}
	return res, s.apply(ctx, res)
}

// apply commits the asset and the scene replacement as one step. A redraw
// failure is reported but the commit stands.
func (s *Session) apply(ctx context.Context, res *LoadResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = res.Raw
	err := s.scene.Replace(res.Cloud)
	logutil.GetLogger(ctx).Info("asset loaded",
		zap.String("name", res.Raw.Name),
		zap.Int64("size", res.Raw.Size),
		zap.Int("points", res.Cloud.Len()),
	)
	return err
}
