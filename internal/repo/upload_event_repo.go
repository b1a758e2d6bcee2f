package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/pcdview/internal/model"
)

const uploadEventTable = "upload_events"

var uploadEventFields = []string{"id", "session_id", "filename", "state", "bytes_written", "total_size", "reason", "ctime"}

type UploadEventRepo struct {
	db *sql.DB
}

func NewUploadEventRepo(db *sql.DB) *UploadEventRepo {
	return &UploadEventRepo{db: db}
}

func (r *UploadEventRepo) Create(ctx context.Context, ev *model.UploadEvent) error {
	data := map[string]interface{}{
		"id":            ev.ID,
		"session_id":    ev.SessionID,
		"filename":      ev.Filename,
		"state":         ev.State,
		"bytes_written": ev.BytesWritten,
		"total_size":    ev.TotalSize,
		"reason":        ev.Reason,
		"ctime":         ev.Ctime,
	}
	sqlStr, args, err := builder.BuildInsert(uploadEventTable, []map[string]interface{}{data})
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

// ListRecent returns the newest events first.
func (r *UploadEventRepo) ListRecent(ctx context.Context, limit uint) ([]*model.UploadEvent, error) {
	where := map[string]interface{}{
		"_orderby": "ctime DESC, id DESC",
		"_limit":   []uint{0, limit},
	}
	return r.list(ctx, where)
}

func (r *UploadEventRepo) ListBySession(ctx context.Context, sessionID string) ([]*model.UploadEvent, error) {
	where := map[string]interface{}{
		"session_id": sessionID,
		"_orderby":   "ctime ASC",
	}
	return r.list(ctx, where)
}

func (r *UploadEventRepo) DeleteBefore(ctx context.Context, ctime int64) (int64, error) {
	sqlStr, args, err := builder.BuildDelete(uploadEventTable, map[string]interface{}{"ctime <": ctime})
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *UploadEventRepo) list(ctx context.Context, where map[string]interface{}) ([]*model.UploadEvent, error) {
	sqlStr, args, err := builder.BuildSelect(uploadEventTable, where, uploadEventFields)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.UploadEvent
	for rows.Next() {
		var ev model.UploadEvent
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Filename, &ev.State, &ev.BytesWritten, &ev.TotalSize, &ev.Reason, &ev.Ctime); err != nil {
			return nil, err
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}
