package handler

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/pcdview/internal/transfer"
)

const writeTimeout = 10 * time.Second

// channel is one connected TransferChannel. Writes from the session loop and
// from hub broadcasts share the mutex so frames never interleave.
type channel struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newChannel(conn *websocket.Conn) *channel {
	return &channel{conn: conn}
}

func (ch *channel) send(msg transfer.Message) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	_ = ch.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return ch.conn.WriteJSON(msg)
}

// Hub tracks connected channels for asset_updated broadcasts.
type Hub struct {
	mu       sync.RWMutex
	channels map[*channel]struct{}
}

func NewHub() *Hub {
	return &Hub{channels: make(map[*channel]struct{})}
}

func (h *Hub) add(ch *channel) {
	h.mu.Lock()
	h.channels[ch] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(ch *channel) {
	h.mu.Lock()
	delete(h.channels, ch)
	h.mu.Unlock()
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

func (h *Hub) Broadcast(ctx context.Context, msg transfer.Message) {
	h.mu.RLock()
	targets := lo.Keys(h.channels)
	h.mu.RUnlock()
	for _, ch := range targets {
		if err := ch.send(msg); err != nil {
			logutil.GetLogger(ctx).Debug("broadcast to channel failed", zap.String("type", msg.Type), zap.Error(err))
		}
	}
}
