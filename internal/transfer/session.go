package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	appErr "github.com/xxxsen/pcdview/internal/pkg/errors"
)

type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
	StateErrored   State = "errored"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted || s == StateErrored
}

// Event is published on every state entry, and with Progress set after each
// appended chunk.
type Event struct {
	SessionID    string
	State        State
	Filename     string
	BytesWritten int64
	TotalSize    int64
	Reason       string
	Progress     bool
	At           time.Time
}

type Observer func(Event)

// Committer moves fully staged bytes into durable storage.
type Committer interface {
	Commit(ctx context.Context, filename string, staged *os.File, size int64) error
	// Occupied reports whether a commit would be rejected right now.
	Occupied(ctx context.Context) (bool, error)
}

type SessionOptions struct {
	StagingDir  string
	MaxFileSize int64
}

// Session is one upload's state machine. Bytes are staged in a temporary file
// and only handed to the Committer once the declared size has arrived.
type Session struct {
	mu        sync.Mutex
	id        string
	state     State
	filename  string
	total     int64
	written   int64
	reason    string
	staging   *os.File
	committer Committer
	opts      SessionOptions
	observers []Observer
}

func NewSession(committer Committer, opts SessionOptions) *Session {
	if opts.StagingDir == "" {
		opts.StagingDir = os.TempDir()
	}
	return &Session{
		id:        uuid.NewString(),
		state:     StateIdle,
		committer: committer,
		opts:      opts,
	}
}

func (s *Session) ID() string {
	return s.id
}

// Subscribe registers an observer. Observers run synchronously on the
// goroutine driving the session and must not call back into it.
func (s *Session) Subscribe(o Observer) {
	if o == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Progress() (written, total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written, s.total
}

func (s *Session) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Start announces the upload. It moves Idle -> Starting -> Streaming, or to
// Errored when the metadata is rejected.
func (s *Session) Start(ctx context.Context, filename string, size int64) error {
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("start in state %s: %w", st, appErr.ErrSessionClosed)
	}
	s.filename = filename
	s.total = size
	s.enterLocked(StateStarting, "")

	if err := s.validateLocked(ctx); err != nil {
		s.failLocked(err)
		return err
	}
	staging, err := os.CreateTemp(s.opts.StagingDir, StagingPrefix+"*")
	if err != nil {
		err = fmt.Errorf("create staging file: %w", err)
		s.failLocked(err)
		return err
	}
	s.staging = staging
	s.enterLocked(StateStreaming, "")
	s.mu.Unlock()
	return nil
}

func (s *Session) validateLocked(ctx context.Context) error {
	if s.filename == "" {
		return fmt.Errorf("filename is required: %w", appErr.ErrInvalid)
	}
	if s.total <= 0 {
		return fmt.Errorf("size must be positive: %w", appErr.ErrInvalid)
	}
	if s.opts.MaxFileSize > 0 && s.total > s.opts.MaxFileSize {
		return fmt.Errorf("size %d exceeds limit %d: %w", s.total, s.opts.MaxFileSize, appErr.ErrTooLarge)
	}
	occupied, err := s.committer.Occupied(ctx)
	if err != nil {
		return err
	}
	if occupied {
		return appErr.ErrConflict
	}
	return nil
}

// Append writes one chunk. When the byte count reaches the declared total
// the staged file is committed and the session completes.
func (s *Session) Append(ctx context.Context, chunk []byte) (written, total int64, err error) {
	s.mu.Lock()
	if s.state != StateStreaming {
		st := s.state
		s.mu.Unlock()
		return 0, 0, fmt.Errorf("append in state %s: %w", st, appErr.ErrSessionClosed)
	}
	if s.written+int64(len(chunk)) > s.total {
		err := fmt.Errorf("chunk overruns declared size %d: %w", s.total, appErr.ErrInvalid)
		written, total = s.written, s.total
		s.failLocked(err)
		return written, total, err
	}
	if _, err := s.staging.Write(chunk); err != nil {
		err = fmt.Errorf("write staging file: %w", err)
		written, total = s.written, s.total
		s.failLocked(err)
		return written, total, err
	}
	s.written += int64(len(chunk))
	s.publishLocked(true)
	if s.written < s.total {
		written, total = s.written, s.total
		s.mu.Unlock()
		return written, total, nil
	}

	written, total = s.written, s.total
	if err := s.commitLocked(ctx); err != nil {
		s.failLocked(err)
		return written, total, err
	}
	s.enterLocked(StateCompleted, "")
	s.releaseLocked()
	s.mu.Unlock()
	return written, total, nil
}

func (s *Session) commitLocked(ctx context.Context) error {
	if _, err := s.staging.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind staging file: %w", err)
	}
	return s.committer.Commit(ctx, s.filename, s.staging, s.total)
}

// Abort cancels a started session. It is a no-op before Start and after a
// terminal state.
func (s *Session) Abort(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle || s.state.Terminal() {
		return
	}
	s.enterLocked(StateAborted, reason)
	s.releaseLocked()
}

// failLocked moves to Errored and unlocks.
func (s *Session) failLocked(err error) {
	s.enterLocked(StateErrored, err.Error())
	s.releaseLocked()
	s.mu.Unlock()
}

func (s *Session) enterLocked(state State, reason string) {
	s.state = state
	s.reason = reason
	s.publishLocked(false)
}

func (s *Session) publishLocked(progress bool) {
	ev := Event{
		SessionID:    s.id,
		State:        s.state,
		Filename:     s.filename,
		BytesWritten: s.written,
		TotalSize:    s.total,
		Reason:       s.reason,
		Progress:     progress,
		At:           time.Now(),
	}
	for _, o := range s.observers {
		o(ev)
	}
}

func (s *Session) releaseLocked() {
	if s.staging == nil {
		return
	}
	name := s.staging.Name()
	_ = s.staging.Close()
	_ = os.Remove(name)
	s.staging = nil
}

// StagingPrefix marks upload staging files so cleanup can find leftovers.
const StagingPrefix = "pcdview-upload-"
