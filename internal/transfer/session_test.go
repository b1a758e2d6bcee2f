package transfer

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/pcdview/internal/pkg/errors"
)

type memCommitter struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	occupied bool
	failWith error
	commits  int
}

func newMemCommitter() *memCommitter {
	return &memCommitter{blobs: map[string][]byte{}}
}

func (m *memCommitter) Commit(ctx context.Context, filename string, staged *os.File, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits++
	if m.failWith != nil {
		return m.failWith
	}
	data, err := io.ReadAll(staged)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("short staged file")
	}
	m.blobs[filename] = data
	return nil
}

func (m *memCommitter) Occupied(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.occupied, nil
}

func stagingFiles(t *testing.T, dir string) []string {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), StagingPrefix) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out
}

func TestSession_CompletesAfterDeclaredBytes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c := newMemCommitter()
	s := NewSession(c, SessionOptions{StagingDir: dir})

	var states []State
	var progress []int64
	s.Subscribe(func(ev Event) {
		if ev.Progress {
			progress = append(progress, ev.BytesWritten)
			return
		}
		states = append(states, ev.State)
	})

	require.Equal(t, StateIdle, s.State())
	require.NoError(t, s.Start(ctx, "cloud.pcd", 10))
	require.Equal(t, StateStreaming, s.State())
	require.Len(t, stagingFiles(t, dir), 1)

	written, total, err := s.Append(ctx, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, int64(5), written)
	require.Equal(t, int64(10), total)
	require.Empty(t, c.blobs)

	written, _, err = s.Append(ctx, []byte("world"))
	require.NoError(t, err)
	require.Equal(t, int64(10), written)
	require.Equal(t, StateCompleted, s.State())
	require.Equal(t, []byte("helloworld"), c.blobs["cloud.pcd"])

	require.Equal(t, []State{StateStarting, StateStreaming, StateCompleted}, states)
	require.Equal(t, []int64{5, 10}, progress)
	require.Empty(t, stagingFiles(t, dir))
}

func TestSession_AbortLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c := newMemCommitter()
	c.blobs["cloud.pcd"] = []byte("previous")
	s := NewSession(c, SessionOptions{StagingDir: dir})

	require.NoError(t, s.Start(ctx, "cloud.pcd", 1000))
	for i := 0; i < 4; i++ {
		_, _, err := s.Append(ctx, make([]byte, 100))
		require.NoError(t, err)
	}
	written, total := s.Progress()
	require.Equal(t, int64(400), written)
	require.Equal(t, int64(1000), total)

	s.Abort("user cancelled")
	require.Equal(t, StateAborted, s.State())
	require.Equal(t, "user cancelled", s.Reason())
	require.Equal(t, 0, c.commits)
	require.Equal(t, []byte("previous"), c.blobs["cloud.pcd"])
	require.Empty(t, stagingFiles(t, dir))

	_, _, err := s.Append(ctx, make([]byte, 100))
	require.ErrorIs(t, err, appErr.ErrSessionClosed)
	require.Equal(t, StateAborted, s.State())
}

func TestSession_OverrunErrors(t *testing.T) {
	ctx := context.Background()
	c := newMemCommitter()
	s := NewSession(c, SessionOptions{StagingDir: t.TempDir()})
	require.NoError(t, s.Start(ctx, "cloud.pcd", 4))

	_, _, err := s.Append(ctx, []byte("too long"))
	require.ErrorIs(t, err, appErr.ErrInvalid)
	require.Equal(t, StateErrored, s.State())
	require.Equal(t, 0, c.commits)
}

func TestSession_ConflictAtStart(t *testing.T) {
	ctx := context.Background()
	c := newMemCommitter()
	c.occupied = true
	dir := t.TempDir()
	s := NewSession(c, SessionOptions{StagingDir: dir})

	err := s.Start(ctx, "cloud.pcd", 10)
	require.ErrorIs(t, err, appErr.ErrConflict)
	require.Equal(t, StateErrored, s.State())
	require.Empty(t, stagingFiles(t, dir))
}

func TestSession_ConflictAtCommit(t *testing.T) {
	ctx := context.Background()
	c := newMemCommitter()
	s := NewSession(c, SessionOptions{StagingDir: t.TempDir()})
	require.NoError(t, s.Start(ctx, "cloud.pcd", 3))

	c.failWith = appErr.ErrConflict
	_, _, err := s.Append(ctx, []byte("abc"))
	require.ErrorIs(t, err, appErr.ErrConflict)
	require.Equal(t, StateErrored, s.State())
	require.Equal(t, CodeConflict, ErrorCode(err))
}

func TestSession_StartValidation(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		filename string
		size     int64
		max      int64
		want     error
	}{
		{name: "empty filename", filename: "", size: 1, want: appErr.ErrInvalid},
		{name: "zero size", filename: "a.pcd", size: 0, want: appErr.ErrInvalid},
		{name: "too large", filename: "a.pcd", size: 11, max: 10, want: appErr.ErrTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession(newMemCommitter(), SessionOptions{StagingDir: t.TempDir(), MaxFileSize: tt.max})
			err := s.Start(ctx, tt.filename, tt.size)
			require.ErrorIs(t, err, tt.want)
			require.Equal(t, StateErrored, s.State())
		})
	}
}

func TestSession_TerminalStatesAreFinal(t *testing.T) {
	ctx := context.Background()
	c := newMemCommitter()
	s := NewSession(c, SessionOptions{StagingDir: t.TempDir()})
	require.NoError(t, s.Start(ctx, "cloud.pcd", 2))
	_, _, err := s.Append(ctx, []byte("ok"))
	require.NoError(t, err)
	require.Equal(t, StateCompleted, s.State())

	s.Abort("late")
	require.Equal(t, StateCompleted, s.State())
	require.ErrorIs(t, s.Start(ctx, "again.pcd", 2), appErr.ErrSessionClosed)
}

func TestSession_AbortBeforeStartIsNoop(t *testing.T) {
	s := NewSession(newMemCommitter(), SessionOptions{StagingDir: t.TempDir()})
	s.Abort("nothing to do")
	require.Equal(t, StateIdle, s.State())
}

func TestRemoteError_Unwrap(t *testing.T) {
	require.ErrorIs(t, &RemoteError{Code: CodeConflict}, appErr.ErrConflict)
	require.ErrorIs(t, &RemoteError{Code: CodeTooLarge}, appErr.ErrTooLarge)
	require.ErrorIs(t, &RemoteError{Code: CodeProtocol}, appErr.ErrInvalid)
	require.Nil(t, (&RemoteError{Code: CodeWriteFailed}).Unwrap())
}
