package service

import (
	"context"
	"os"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// AssetCommitter publishes finished upload sessions into the logical asset
// slot. The uploaded filename is only recorded; the slot name is fixed.
type AssetCommitter struct {
	assets    *AssetService
	name      string
	overwrite bool
}

func NewAssetCommitter(assets *AssetService, name string, overwrite bool) *AssetCommitter {
	return &AssetCommitter{assets: assets, name: name, overwrite: overwrite}
}

func (c *AssetCommitter) Name() string {
	return c.name
}

func (c *AssetCommitter) Commit(ctx context.Context, filename string, staged *os.File, size int64) error {
	logutil.GetLogger(ctx).Debug("commit upload",
		zap.String("filename", filename),
		zap.String("asset", c.name),
		zap.Int64("size", size),
	)
	return c.assets.Store(ctx, c.name, staged, size, c.overwrite)
}

func (c *AssetCommitter) Occupied(ctx context.Context) (bool, error) {
	if c.overwrite {
		return false, nil
	}
	return c.assets.Exists(ctx, c.name)
}
