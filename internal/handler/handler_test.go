package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/pcdview/internal/config"
	"github.com/xxxsen/pcdview/internal/db"
	"github.com/xxxsen/pcdview/internal/filestore"
	"github.com/xxxsen/pcdview/internal/handler"
	"github.com/xxxsen/pcdview/internal/model"
	appErr "github.com/xxxsen/pcdview/internal/pkg/errors"
	"github.com/xxxsen/pcdview/internal/repo"
	"github.com/xxxsen/pcdview/internal/service"
	"github.com/xxxsen/pcdview/internal/transfer"
)

const testAssetName = "upload.pcd"

type testServer struct {
	srv        *httptest.Server
	assets     *service.AssetService
	stagingDir string
}

func (s *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + handler.UploadPath
}

func setupServer(t *testing.T, overwrite bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := filestore.New(config.FileStoreConfig{
		Type: "local",
		Data: map[string]interface{}{"dir": t.TempDir()},
	})
	require.NoError(t, err)

	conn, err := db.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.ApplyMigrations(conn))

	stagingDir := t.TempDir()
	uploadCfg := config.UploadConfig{Overwrite: overwrite, ChunkSize: 64, StagingDir: stagingDir}
	assets := service.NewAssetService(store)
	history := service.NewHistoryService(repo.NewUploadEventRepo(conn))
	committer := service.NewAssetCommitter(assets, testAssetName, overwrite)

	router := handler.NewRouter(handler.RouterDeps{
		Assets:  handler.NewAssetHandler(assets, testAssetName),
		Uploads: handler.NewUploadHandler(committer, history, handler.NewHub(), uploadCfg),
		History: handler.NewHistoryHandler(history),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, assets: assets, stagingDir: stagingDir}
}

func dial(t *testing.T, s *testServer) *transfer.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := transfer.Dial(ctx, s.wsURL(), transfer.DefaultClientOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testCloud(n int) []byte {
	var buf bytes.Buffer
	buf.WriteString("VERSION 0.7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\n")
	buf.WriteString("WIDTH " + strconv.Itoa(n) + "\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS " + strconv.Itoa(n) + "\nDATA ascii\n")
	for i := 0; i < n; i++ {
		buf.WriteString(strconv.Itoa(i) + " " + strconv.Itoa(i*2) + " " + strconv.Itoa(i*3) + "\n")
	}
	return buf.Bytes()
}

func getAsset(t *testing.T, s *testServer, method string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.srv.URL+handler.AssetPath, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestAsset_EmptySlotIs404(t *testing.T) {
	s := setupServer(t, false)

	resp, _ := getAsset(t, s, http.MethodGet)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = getAsset(t, s, http.MethodHead)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err := http.Get(s.srv.URL + "/api/v1/asset/info")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAsset_ServesStoredBytes(t *testing.T) {
	s := setupServer(t, false)
	data := testCloud(5)
	require.NoError(t, s.assets.Store(context.Background(), testAssetName, bytes.NewReader(data), int64(len(data)), false))

	resp, body := getAsset(t, s, http.MethodGet)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, data, body)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	resp, body = getAsset(t, s, http.MethodHead)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, body)

	infoResp, err := http.Get(s.srv.URL + "/api/v1/asset/info")
	require.NoError(t, err)
	defer infoResp.Body.Close()
	var payload struct {
		Data model.AssetInfo `json:"data"`
	}
	require.NoError(t, json.NewDecoder(infoResp.Body).Decode(&payload))
	require.Equal(t, int64(len(data)), payload.Data.Size)
	require.Equal(t, testAssetName, payload.Data.Name)
}

func TestUpload_CompletesAndBroadcasts(t *testing.T) {
	s := setupServer(t, false)
	watcher := dial(t, s)
	uploader := dial(t, s)
	data := testCloud(40)

	var acks []int64
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := uploader.Upload(ctx, "scan.pcd", bytes.NewReader(data), int64(len(data)), func(written, total int64) {
		acks = append(acks, written)
		require.Equal(t, int64(len(data)), total)
	})
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), res.BytesWritten)
	require.Equal(t, (len(data)+63)/64, len(acks))

	update, err := watcher.WaitUpdate(ctx)
	require.NoError(t, err)
	require.Equal(t, transfer.TypeAssetUpdated, update.Type)
	require.Equal(t, testAssetName, update.Name)
	require.Equal(t, int64(len(data)), update.Size)

	_, body := getAsset(t, s, http.MethodGet)
	require.Equal(t, data, body)

	histResp, err := http.Get(s.srv.URL + "/api/v1/uploads?limit=10")
	require.NoError(t, err)
	defer histResp.Body.Close()
	var hist struct {
		Data []model.UploadEvent `json:"data"`
	}
	require.NoError(t, json.NewDecoder(histResp.Body).Decode(&hist))
	require.NotEmpty(t, hist.Data)
	states := make([]string, 0, len(hist.Data))
	for _, ev := range hist.Data {
		states = append(states, ev.State)
	}
	require.Contains(t, states, string(transfer.StateCompleted))
}

func TestUpload_ConflictKeepsFirstUpload(t *testing.T) {
	s := setupServer(t, false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	first := testCloud(3)
	second := testCloud(7)

	c := dial(t, s)
	_, err := c.Upload(ctx, "a.pcd", bytes.NewReader(first), int64(len(first)), nil)
	require.NoError(t, err)

	_, err = c.Upload(ctx, "b.pcd", bytes.NewReader(second), int64(len(second)), nil)
	require.ErrorIs(t, err, appErr.ErrConflict)

	_, body := getAsset(t, s, http.MethodGet)
	require.Equal(t, first, body)
}

func TestUpload_OverwriteReplaces(t *testing.T) {
	s := setupServer(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := dial(t, s)
	for _, data := range [][]byte{testCloud(3), testCloud(9)} {
		_, err := c.Upload(ctx, "a.pcd", bytes.NewReader(data), int64(len(data)), nil)
		require.NoError(t, err)
	}
	_, body := getAsset(t, s, http.MethodGet)
	require.Equal(t, testCloud(9), body)
}

func TestUpload_AbortMidStreamLeavesSlot(t *testing.T) {
	s := setupServer(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	original := testCloud(2)
	require.NoError(t, s.assets.Store(ctx, testAssetName, bytes.NewReader(original), int64(len(original)), true))

	c := dial(t, s)
	ready, err := c.Begin(ctx, "big.pcd", 1000)
	require.NoError(t, err)
	require.Equal(t, transfer.TypeReady, ready.Type)
	require.Equal(t, 64, ready.ChunkSize)
	for i := 0; i < 4; i++ {
		require.NoError(t, c.SendChunk(make([]byte, 100)))
		ack, err := c.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, transfer.TypeAck, ack.Type)
		require.Equal(t, int64((i+1)*100), ack.BytesWritten)
	}
	require.NoError(t, c.Abort(ctx))

	_, body := getAsset(t, s, http.MethodGet)
	require.Equal(t, original, body)

	entries, err := os.ReadDir(s.stagingDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestUpload_ChunkWithoutStartIsProtocolError(t *testing.T) {
	s := setupServer(t, false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := dial(t, s)
	require.NoError(t, c.SendChunk([]byte("stray")))
	msg, err := c.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, transfer.TypeError, msg.Type)
	require.Equal(t, transfer.CodeProtocol, msg.Code)
}

func TestHistory_InvalidLimit(t *testing.T) {
	s := setupServer(t, false)
	resp, err := http.Get(s.srv.URL + "/api/v1/uploads?limit=abc")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
