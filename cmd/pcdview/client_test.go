package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/pcdview/internal/config"
	"github.com/xxxsen/pcdview/internal/filestore"
	"github.com/xxxsen/pcdview/internal/handler"
	"github.com/xxxsen/pcdview/internal/service"
	"github.com/xxxsen/pcdview/internal/transfer"
)

func TestChannelURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:3000", want: "ws://127.0.0.1:3000/api/v1/upload"},
		{in: "http://example.com/", want: "ws://example.com/api/v1/upload"},
		{in: "https://example.com/pcd", want: "wss://example.com/pcd/api/v1/upload"},
		{in: "ws://host:1", want: "ws://host:1/api/v1/upload"},
	}
	for _, tt := range tests {
		got, err := channelURL(tt.in)
		require.NoError(t, err)
		require.Equal(t, tt.want, got)
	}

	_, err := channelURL("ftp://host")
	require.Error(t, err)
}

func startServer(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store, err := filestore.New(config.FileStoreConfig{
		Type: "local",
		Data: map[string]interface{}{"dir": t.TempDir()},
	})
	require.NoError(t, err)
	assets := service.NewAssetService(store)
	history := service.NewHistoryService(nil)
	router := handler.NewRouter(handler.RouterDeps{
		Assets:  handler.NewAssetHandler(assets, config.DefaultAssetName),
		Uploads: handler.NewUploadHandler(service.NewAssetCommitter(assets, config.DefaultAssetName, true), history, handler.NewHub(), config.UploadConfig{StagingDir: t.TempDir()}),
		History: handler.NewHistoryHandler(history),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestWatchRemote_SeesUploadDuringFirstPull(t *testing.T) {
	server := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pulls := 0
	pull := func() error {
		pulls++
		if pulls == 1 {
			wsURL, err := channelURL(server)
			require.NoError(t, err)
			up, err := transfer.Dial(ctx, wsURL, transfer.DefaultClientOptions())
			require.NoError(t, err)
			defer up.Close()
			data := []byte("FIELDS x y z\nPOINTS 1\nDATA ascii\n1 2 3\n")
			_, err = up.Upload(ctx, "a.pcd", bytes.NewReader(data), int64(len(data)), nil)
			require.NoError(t, err)
			return nil
		}
		cancel()
		return nil
	}

	require.NoError(t, watchRemote(ctx, server, pull))
	require.Equal(t, 2, pulls)
}
