package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

const DefaultChunkSize = 10240

type ClientOptions struct {
	// ChunkSize overrides the server-advertised chunk size when positive.
	ChunkSize int
	// Delay overrides the server-advertised inter-chunk delay when >= 0.
	Delay  time.Duration
	Dialer *websocket.Dialer
	Header http.Header
}

func DefaultClientOptions() ClientOptions {
	return ClientOptions{Delay: -1}
}

type UploadResult struct {
	SessionID    string
	BytesWritten int64
	TotalSize    int64
}

// Client is one TransferChannel seen from the uploading side. It is not safe
// for concurrent Upload/WaitUpdate calls.
type Client struct {
	conn     *websocket.Conn
	opts     ClientOptions
	incoming chan Message

	mu      sync.Mutex
	readErr error
	pending []Message
}

func Dial(ctx context.Context, url string, opts ClientOptions) (*Client, error) {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{conn: conn, opts: opts, incoming: make(chan Message, 16)}
	go c.readLoop()
	return c, nil
}

func (c *Client) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer close(c.incoming)
	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		c.incoming <- msg
	}
}

func (c *Client) send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// next returns the next session reply, parking broadcasts for WaitUpdate.
func (c *Client) next(ctx context.Context) (Message, error) {
	for {
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case msg, ok := <-c.incoming:
			if !ok {
				c.mu.Lock()
				err := c.readErr
				c.mu.Unlock()
				return Message{}, fmt.Errorf("channel closed: %w", err)
			}
			if msg.Type == TypeAssetUpdated {
				c.mu.Lock()
				c.pending = append(c.pending, msg)
				c.mu.Unlock()
				continue
			}
			return msg, nil
		}
	}
}

// Upload streams r as one session. Cancelling ctx aborts the session on the
// server; nothing is retried.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader, size int64, onAck func(written, total int64)) (*UploadResult, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("filename", filename), zap.Int64("size", size))
	if err := c.send(Message{Type: TypeStart, Filename: filename, Size: size}); err != nil {
		return nil, fmt.Errorf("send start: %w", err)
	}
	ready, err := c.next(ctx)
	if err != nil {
		return nil, err
	}
	if ready.Type == TypeError {
		return nil, &RemoteError{Code: ready.Code, Reason: ready.Reason}
	}
	if ready.Type != TypeReady {
		return nil, fmt.Errorf("unexpected %q reply to start", ready.Type)
	}
	chunkSize, delay := c.pacing(ready)
	logger.Debug("upload session ready", zap.String("session_id", ready.SessionID), zap.Int("chunk_size", chunkSize), zap.Duration("delay", delay))

	result := &UploadResult{SessionID: ready.SessionID, TotalSize: size}
	buf := make([]byte, chunkSize)
	var sent int64
	for sent < size {
		n := int64(chunkSize)
		if remaining := size - sent; remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			c.abort(ctx, "source read failed")
			return nil, fmt.Errorf("read source: %w", err)
		}
		if err := ctx.Err(); err != nil {
			c.abort(ctx, "cancelled")
			return nil, err
		}
		if err := c.conn.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
			return nil, fmt.Errorf("send chunk: %w", err)
		}
		sent += n
		reply, err := c.next(ctx)
		if err != nil {
			c.abort(ctx, "cancelled")
			return nil, err
		}
		switch reply.Type {
		case TypeAck:
			result.BytesWritten = reply.BytesWritten
			if onAck != nil {
				onAck(reply.BytesWritten, reply.TotalSize)
			}
		case TypeError:
			return nil, &RemoteError{Code: reply.Code, Reason: reply.Reason}
		default:
			return nil, fmt.Errorf("unexpected %q reply to chunk", reply.Type)
		}
		if delay > 0 && sent < size {
			select {
			case <-ctx.Done():
				c.abort(ctx, "cancelled")
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	final, err := c.next(ctx)
	if err != nil {
		return nil, err
	}
	switch final.Type {
	case TypeComplete:
		logger.Info("upload complete", zap.String("session_id", result.SessionID))
		return result, nil
	case TypeError:
		return nil, &RemoteError{Code: final.Code, Reason: final.Reason}
	default:
		return nil, fmt.Errorf("unexpected %q after last chunk", final.Type)
	}
}

func (c *Client) pacing(ready Message) (int, time.Duration) {
	chunkSize := ready.ChunkSize
	if c.opts.ChunkSize > 0 {
		chunkSize = c.opts.ChunkSize
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	delay := time.Duration(ready.TransmissionDelayMs) * time.Millisecond
	if c.opts.Delay >= 0 {
		delay = c.opts.Delay
	}
	return chunkSize, delay
}

// Abort cancels the current session explicitly.
func (c *Client) Abort(ctx context.Context) error {
	if err := c.send(Message{Type: TypeAbort}); err != nil {
		return err
	}
	for {
		msg, err := c.next(ctx)
		if err != nil {
			return err
		}
		if msg.Type == TypeAborted || msg.Type == TypeError {
			return nil
		}
	}
}

func (c *Client) abort(ctx context.Context, reason string) {
	if err := c.send(Message{Type: TypeAbort, Reason: reason}); err != nil {
		logutil.GetLogger(ctx).Debug("send abort failed", zap.Error(err))
	}
}

// SendChunk writes raw bytes without waiting for the ack.
func (c *Client) SendChunk(data []byte) error {
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Begin sends a start frame and waits for the server's answer.
func (c *Client) Begin(ctx context.Context, filename string, size int64) (Message, error) {
	if err := c.send(Message{Type: TypeStart, Filename: filename, Size: size}); err != nil {
		return Message{}, err
	}
	msg, err := c.next(ctx)
	if err != nil {
		return Message{}, err
	}
	if msg.Type == TypeError {
		return msg, &RemoteError{Code: msg.Code, Reason: msg.Reason}
	}
	return msg, nil
}

// Next exposes the next non-broadcast reply.
func (c *Client) Next(ctx context.Context) (Message, error) {
	return c.next(ctx)
}

// WaitUpdate blocks until the server announces a new asset.
func (c *Client) WaitUpdate(ctx context.Context) (Message, error) {
	c.mu.Lock()
	if len(c.pending) > 0 {
		msg := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()
		return msg, nil
	}
	c.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case msg, ok := <-c.incoming:
			if !ok {
				c.mu.Lock()
				err := c.readErr
				c.mu.Unlock()
				return Message{}, fmt.Errorf("channel closed: %w", err)
			}
			if msg.Type == TypeAssetUpdated {
				return msg, nil
			}
		}
	}
}
