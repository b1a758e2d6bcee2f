package job

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/pcdview/internal/transfer"
)

// StagingCleanupJob removes upload staging files left behind by sessions that
// never reached a terminal state, e.g. after a crash.
type StagingCleanupJob struct {
	dir    string
	maxAge time.Duration
	now    func() time.Time
}

func NewStagingCleanupJob(dir string, maxAge time.Duration) *StagingCleanupJob {
	return &StagingCleanupJob{dir: dir, maxAge: maxAge, now: time.Now}
}

func (j *StagingCleanupJob) Name() string {
	return "staging_cleanup"
}

func (j *StagingCleanupJob) Run(ctx context.Context) error {
	maxAge := j.maxAge
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	cutoff := j.now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), transfer.StagingPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(j.dir, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logutil.GetLogger(ctx).Warn("remove staging file failed", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		logutil.GetLogger(ctx).Info("staging files removed", zap.Int("count", removed), zap.String("dir", j.dir))
	}
	return nil
}
