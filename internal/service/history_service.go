package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/pcdview/internal/model"
	"github.com/xxxsen/pcdview/internal/transfer"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type UploadEventStore interface {
	Create(ctx context.Context, ev *model.UploadEvent) error
	ListRecent(ctx context.Context, limit uint) ([]*model.UploadEvent, error)
}

// HistoryService persists upload session state entries. A nil store turns
// it into a no-op.
type HistoryService struct {
	store UploadEventStore
}

func NewHistoryService(store UploadEventStore) *HistoryService {
	return &HistoryService{store: store}
}

func (s *HistoryService) Enabled() bool {
	return s != nil && s.store != nil
}

// Observer returns a session observer recording state entries. Progress
// steps are not persisted. Entries are written even after ctx is cancelled,
// so the abort fired by a disconnect still lands.
func (s *HistoryService) Observer(ctx context.Context) transfer.Observer {
	ctx = context.WithoutCancel(ctx)
	return func(ev transfer.Event) {
		if ev.Progress || !s.Enabled() {
			return
		}
		if err := s.Record(ctx, ev); err != nil {
			logutil.GetLogger(ctx).Error("record upload event failed",
				zap.String("session_id", ev.SessionID),
				zap.String("state", string(ev.State)),
				zap.Error(err),
			)
		}
	}
}

func (s *HistoryService) Record(ctx context.Context, ev transfer.Event) error {
	if !s.Enabled() {
		return nil
	}
	return s.store.Create(ctx, &model.UploadEvent{
		ID:           uuid.NewString(),
		SessionID:    ev.SessionID,
		Filename:     ev.Filename,
		State:        string(ev.State),
		BytesWritten: ev.BytesWritten,
		TotalSize:    ev.TotalSize,
		Reason:       ev.Reason,
		Ctime:        ev.At.UnixMilli(),
	})
}

func (s *HistoryService) Recent(ctx context.Context, limit int) ([]*model.UploadEvent, error) {
	if !s.Enabled() {
		return []*model.UploadEvent{}, nil
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	items, err := s.store.ListRecent(ctx, uint(limit))
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*model.UploadEvent{}
	}
	return items, nil
}
