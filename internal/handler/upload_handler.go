package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/pcdview/internal/config"
	"github.com/xxxsen/pcdview/internal/service"
	"github.com/xxxsen/pcdview/internal/transfer"
)

// UploadHandler serves TransferChannels over websocket. Each channel runs at
// most one live session at a time.
type UploadHandler struct {
	committer *service.AssetCommitter
	history   *service.HistoryService
	hub       *Hub
	cfg       config.UploadConfig
	upgrader  websocket.Upgrader
}

func NewUploadHandler(committer *service.AssetCommitter, history *service.HistoryService, hub *Hub, cfg config.UploadConfig) *UploadHandler {
	cfg.ApplyDefaults()
	return &UploadHandler{
		committer: committer,
		history:   history,
		hub:       hub,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ChunkSize,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *UploadHandler) Serve(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logutil.GetLogger(ctx).With(zap.String("request_id", requestID(c)), zap.String("remote", c.ClientIP()))
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("upgrade transfer channel failed", zap.Error(err))
		return
	}
	if h.cfg.MaxFileSize > 0 {
		conn.SetReadLimit(h.cfg.MaxFileSize + 4096)
	}
	ch := newChannel(conn)
	h.hub.add(ch)
	logger.Info("transfer channel opened", zap.Int("channels", h.hub.Len()))
	defer func() {
		h.hub.remove(ch)
		_ = conn.Close()
		logger.Info("transfer channel closed", zap.Int("channels", h.hub.Len()))
	}()
	h.serveChannel(ctx, ch, logger)
}

func (h *UploadHandler) serveChannel(ctx context.Context, ch *channel, logger *zap.Logger) {
	var sess *transfer.Session
	defer func() {
		if sess != nil {
			sess.Abort("channel closed")
		}
	}()
	for {
		typ, data, err := ch.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("read transfer channel failed", zap.Error(err))
			}
			return
		}
		switch typ {
		case websocket.TextMessage:
			sess = h.handleControl(ctx, ch, sess, data, logger)
		case websocket.BinaryMessage:
			h.handleChunk(ctx, ch, sess, data)
		}
	}
}

func (h *UploadHandler) handleControl(ctx context.Context, ch *channel, sess *transfer.Session, data []byte, logger *zap.Logger) *transfer.Session {
	var msg transfer.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		h.reply(ctx, ch, protocolError("malformed control frame"))
		return sess
	}
	switch msg.Type {
	case transfer.TypeStart:
		if sess != nil && !sess.State().Terminal() {
			h.reply(ctx, ch, protocolError("a session is already active on this channel"))
			return sess
		}
		next := h.newSession(ctx, logger)
		if err := next.Start(ctx, msg.Filename, msg.Size); err != nil {
			h.reply(ctx, ch, failure(next, err))
			return next
		}
		h.reply(ctx, ch, transfer.Message{
			Type:                transfer.TypeReady,
			SessionID:           next.ID(),
			TotalSize:           msg.Size,
			ChunkSize:           h.cfg.ChunkSize,
			TransmissionDelayMs: h.cfg.TransmissionDelayMs,
		})
		return next
	case transfer.TypeAbort:
		if sess == nil || sess.State().Terminal() {
			h.reply(ctx, ch, protocolError("no active session"))
			return sess
		}
		reason := msg.Reason
		if reason == "" {
			reason = "aborted by client"
		}
		sess.Abort(reason)
		h.reply(ctx, ch, transfer.Message{Type: transfer.TypeAborted, SessionID: sess.ID(), Reason: reason})
		return sess
	default:
		h.reply(ctx, ch, protocolError("unknown frame type "+msg.Type))
		return sess
	}
}

func (h *UploadHandler) handleChunk(ctx context.Context, ch *channel, sess *transfer.Session, chunk []byte) {
	if sess == nil || sess.State() != transfer.StateStreaming {
		h.reply(ctx, ch, protocolError("chunk received outside a streaming session"))
		return
	}
	written, total, err := sess.Append(ctx, chunk)
	if err != nil {
		h.reply(ctx, ch, failure(sess, err))
		return
	}
	h.reply(ctx, ch, transfer.Message{Type: transfer.TypeAck, SessionID: sess.ID(), BytesWritten: written, TotalSize: total})
	if sess.State() != transfer.StateCompleted {
		return
	}
	h.reply(ctx, ch, transfer.Message{Type: transfer.TypeComplete, SessionID: sess.ID(), Name: h.committer.Name(), BytesWritten: written, TotalSize: total})
	h.hub.Broadcast(ctx, transfer.Message{Type: transfer.TypeAssetUpdated, Name: h.committer.Name(), Size: total})
}

func (h *UploadHandler) newSession(ctx context.Context, logger *zap.Logger) *transfer.Session {
	sess := transfer.NewSession(h.committer, transfer.SessionOptions{
		StagingDir:  h.cfg.StagingDir,
		MaxFileSize: h.cfg.MaxFileSize,
	})
	sess.Subscribe(logObserver(logger))
	if h.history.Enabled() {
		sess.Subscribe(h.history.Observer(ctx))
	}
	return sess
}

func (h *UploadHandler) reply(ctx context.Context, ch *channel, msg transfer.Message) {
	if err := ch.send(msg); err != nil {
		logutil.GetLogger(ctx).Debug("write transfer channel failed", zap.String("type", msg.Type), zap.Error(err))
	}
}

func logObserver(logger *zap.Logger) transfer.Observer {
	return func(ev transfer.Event) {
		if ev.Progress {
			return
		}
		l := logger.With(
			zap.String("session_id", ev.SessionID),
			zap.String("state", string(ev.State)),
			zap.String("filename", ev.Filename),
			zap.Int64("bytes_written", ev.BytesWritten),
			zap.Int64("total_size", ev.TotalSize),
		)
		switch ev.State {
		case transfer.StateErrored:
			l.Error("upload session errored", zap.String("reason", ev.Reason))
		case transfer.StateAborted:
			l.Warn("upload session aborted", zap.String("reason", ev.Reason))
		default:
			l.Info("upload session state")
		}
	}
}

func failure(sess *transfer.Session, err error) transfer.Message {
	return transfer.Message{
		Type:      transfer.TypeError,
		SessionID: sess.ID(),
		Code:      transfer.ErrorCode(err),
		Reason:    err.Error(),
	}
}

func protocolError(reason string) transfer.Message {
	return transfer.Message{Type: transfer.TypeError, Code: transfer.CodeProtocol, Reason: reason}
}
