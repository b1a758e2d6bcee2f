package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/pcdview/internal/config"
	"github.com/xxxsen/pcdview/internal/db"
	"github.com/xxxsen/pcdview/internal/filestore"
	"github.com/xxxsen/pcdview/internal/handler"
	"github.com/xxxsen/pcdview/internal/job"
	"github.com/xxxsen/pcdview/internal/repo"
	"github.com/xxxsen/pcdview/internal/schedule"
	"github.com/xxxsen/pcdview/internal/service"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pcdview",
		Short: "point cloud sync server and headless viewer",
	}
	rootCmd.AddCommand(newServeCmd(), newPushCmd(), newPullCmd(), newRenderCmd())

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("command failed", zap.Error(err))
	}
}

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the asset slot server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(
				cfg.LogConfig.File,
				cfg.LogConfig.Level,
				int(cfg.LogConfig.FileCount),
				int(cfg.LogConfig.FileSize),
				int(cfg.LogConfig.KeepDays),
				cfg.LogConfig.Console,
			)
			logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))
			return runServer(cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	return cmd
}

func runServer(cfg *config.Config) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("asset_name", cfg.AssetName),
		zap.String("file_store", cfg.FileStore.Type),
		zap.Bool("overwrite", cfg.Upload.Overwrite),
	)

	backend, err := filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}
	if closer, ok := backend.(io.Closer); ok {
		defer closer.Close()
	}
	store := filestore.WrapLruCache(backend, cfg.Cache.Size, time.Duration(cfg.Cache.TTLSeconds)*time.Second)

	var historyRepo *repo.UploadEventRepo
	history := service.NewHistoryService(nil)
	if cfg.DBPath != "" {
		conn, err := openHistoryDB(cfg.DBPath)
		if err != nil {
			return err
		}
		defer conn.Close()
		historyRepo = repo.NewUploadEventRepo(conn)
		history = service.NewHistoryService(historyRepo)
	}

	assets := service.NewAssetService(store)
	committer := service.NewAssetCommitter(assets, cfg.AssetName, cfg.Upload.Overwrite)
	hub := handler.NewHub()

	router := handler.NewRouter(handler.RouterDeps{
		Assets:          handler.NewAssetHandler(assets, cfg.AssetName),
		Uploads:         handler.NewUploadHandler(committer, history, hub, cfg.Upload),
		History:         handler.NewHistoryHandler(history),
		CORSAllowlist:   cfg.CORSAllowlist,
		ConnectInterval: time.Duration(cfg.Upload.ConnectIntervalMs) * time.Millisecond,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := schedule.NewCronScheduler(schedule.WithRunOnStart())
	maxAge := time.Duration(cfg.Cleanup.MaxAgeMinutes) * time.Minute
	if err := scheduler.AddJob(job.NewStagingCleanupJob(cfg.Upload.StagingDir, maxAge), cfg.Cleanup.Spec); err != nil {
		return fmt.Errorf("schedule staging cleanup: %w", err)
	}
	if historyRepo != nil && cfg.Cleanup.HistoryDays > 0 {
		keep := time.Duration(cfg.Cleanup.HistoryDays) * 24 * time.Hour
		if err := scheduler.AddJob(job.NewHistoryPruneJob(historyRepo, keep), cfg.Cleanup.Spec); err != nil {
			return fmt.Errorf("schedule history prune: %w", err)
		}
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: router}
	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logutil.GetLogger(context.Background()).Info("server stopping...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openHistoryDB(path string) (*sql.DB, error) {
	conn, err := db.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return conn, nil
}
