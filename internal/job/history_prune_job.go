package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type UploadEventPruner interface {
	DeleteBefore(ctx context.Context, ctime int64) (int64, error)
}

// HistoryPruneJob drops upload events older than maxAge.
type HistoryPruneJob struct {
	repo   UploadEventPruner
	maxAge time.Duration
}

func NewHistoryPruneJob(repo UploadEventPruner, maxAge time.Duration) *HistoryPruneJob {
	return &HistoryPruneJob{repo: repo, maxAge: maxAge}
}

func (j *HistoryPruneJob) Name() string {
	return "history_prune"
}

func (j *HistoryPruneJob) Run(ctx context.Context) error {
	if j.repo == nil || j.maxAge <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-j.maxAge).UnixMilli()
	n, err := j.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		logutil.GetLogger(ctx).Info("upload events pruned", zap.Int64("count", n))
	}
	return nil
}
