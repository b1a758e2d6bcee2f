package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/pcdview/internal/handler"
	"github.com/xxxsen/pcdview/internal/pcd"
	appErr "github.com/xxxsen/pcdview/internal/pkg/errors"
	"github.com/xxxsen/pcdview/internal/transfer"
	"github.com/xxxsen/pcdview/internal/viewer"
)

type viewerFlags struct {
	logLevel  string
	snapshot  string
	exportDir string
	invert    bool
	watch     bool
	width     int
	height    int
}

func (f *viewerFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "log level")
	cmd.Flags().StringVar(&f.snapshot, "snapshot", "snapshot.png", "write a PNG of the rendered scene here; empty disables")
	cmd.Flags().StringVar(&f.exportDir, "export", "", "write export.pcd of the loaded bytes into this directory")
	cmd.Flags().BoolVar(&f.invert, "invert", false, "render with inverted colors")
	cmd.Flags().BoolVar(&f.watch, "watch", false, "keep running and re-render on changes")
	cmd.Flags().IntVar(&f.width, "width", viewer.DefaultSurfaceWidth, "snapshot width in pixels")
	cmd.Flags().IntVar(&f.height, "height", viewer.DefaultSurfaceHeight, "snapshot height in pixels")
}

func initConsoleLogger(level string) {
	logger.Init("", level, 0, 0, 0, true)
}

// newViewer wires a session, its scene and a headless surface.
func (f *viewerFlags) newViewer() (*viewer.Session, error) {
	scene := viewer.NewScene()
	if f.invert {
		if err := scene.Invert(); err != nil {
			return nil, err
		}
	}
	if err := scene.Attach(viewer.NewPlotSurface(f.width, f.height)); err != nil {
		return nil, err
	}
	loader := viewer.NewLoader(pcd.Decoder{}, &http.Client{Timeout: 60 * time.Second})
	return viewer.NewSession(loader, scene), nil
}

// emit writes the snapshot and the optional export for the session's
// current asset.
func (f *viewerFlags) emit(ctx context.Context, sess *viewer.Session) error {
	log := logutil.GetLogger(ctx)
	if f.snapshot != "" {
		data, err := sess.Scene().SnapshotImage()
		if err != nil {
			return err
		}
		if err := os.WriteFile(f.snapshot, data, 0o644); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		log.Info("snapshot written", zap.String("path", f.snapshot))
	}
	if f.exportDir != "" {
		art, err := viewer.NewExporter(sess).ExportCurrent()
		if err != nil {
			return err
		}
		p, err := art.Save(f.exportDir)
		if err != nil {
			return err
		}
		log.Info("export written", zap.String("path", p), zap.String("mime", art.MIMEType))
	}
	return nil
}

func newPushCmd() *cobra.Command {
	var (
		server    string
		chunkSize int
		delayMs   int
		logLevel  string
	)
	cmd := &cobra.Command{
		Use:   "push <file>",
		Short: "upload a point cloud into the server slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initConsoleLogger(logLevel)
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			handle, err := viewer.NewFileHandle(args[0])
			if err != nil {
				return err
			}
			f, err := handle.Open()
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}

			opts := transfer.DefaultClientOptions()
			opts.ChunkSize = chunkSize
			if delayMs >= 0 {
				opts.Delay = time.Duration(delayMs) * time.Millisecond
			}
			wsURL, err := channelURL(server)
			if err != nil {
				return err
			}
			client, err := transfer.Dial(ctx, wsURL, opts)
			if err != nil {
				return err
			}
			defer client.Close()

			log := logutil.GetLogger(ctx).With(zap.String("file", handle.Name()))
			res, err := client.Upload(ctx, handle.Name(), f, info.Size(), func(written, total int64) {
				log.Debug("upload progress", zap.Int64("written", written), zap.Int64("total", total))
			})
			if err != nil {
				if appErr.IsConflict(err) {
					return fmt.Errorf("server slot is occupied and overwrite is disabled: %w", err)
				}
				return err
			}
			log.Info("upload finished", zap.String("session_id", res.SessionID), zap.Int64("bytes", res.BytesWritten))
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://127.0.0.1:3000", "server base url")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "chunk size in bytes; 0 uses the server's")
	cmd.Flags().IntVar(&delayMs, "delay-ms", -1, "delay between chunks; negative uses the server's")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	return cmd
}

func newPullCmd() *cobra.Command {
	var (
		server string
		flags  viewerFlags
	)
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "probe the server slot, load and render it",
		RunE: func(cmd *cobra.Command, args []string) error {
			initConsoleLogger(flags.logLevel)
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sess, err := flags.newViewer()
			if err != nil {
				return err
			}
			assetURL := strings.TrimSuffix(server, "/") + handler.AssetPath
			pull := func() error {
				if _, err := sess.LoadRemote(ctx, assetURL); err != nil {
					return err
				}
				return flags.emit(ctx, sess)
			}
			if !flags.watch {
				err := pull()
				if appErr.IsNotFound(err) {
					logutil.GetLogger(ctx).Info("nothing is here yet", zap.String("url", assetURL))
					return nil
				}
				return err
			}
			return watchRemote(ctx, server, pull)
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://127.0.0.1:3000", "server base url")
	flags.bind(cmd)
	return cmd
}

// watchRemote subscribes to asset_updated broadcasts, pulls once, then
// re-pulls on every broadcast. Updates that land during the first pull are
// buffered by the client.
func watchRemote(ctx context.Context, server string, pull func() error) error {
	wsURL, err := channelURL(server)
	if err != nil {
		return err
	}
	client, err := transfer.Dial(ctx, wsURL, transfer.DefaultClientOptions())
	if err != nil {
		return err
	}
	defer client.Close()

	log := logutil.GetLogger(ctx)
	if err := pull(); err != nil && !appErr.IsNotFound(err) {
		log.Error("initial pull failed", zap.Error(err))
	}
	log.Info("waiting for uploads")
	for {
		msg, err := client.WaitUpdate(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		log.Info("asset updated", zap.String("name", msg.Name), zap.Int64("size", msg.Size))
		if err := pull(); err != nil {
			log.Error("pull failed", zap.Error(err))
		}
	}
}

func newRenderCmd() *cobra.Command {
	var flags viewerFlags
	cmd := &cobra.Command{
		Use:   "render <file>",
		Short: "load a local point cloud and render it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initConsoleLogger(flags.logLevel)
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sess, err := flags.newViewer()
			if err != nil {
				return err
			}
			path := args[0]
			load := func() error {
				handle, err := viewer.NewFileHandle(path)
				if err != nil {
					return err
				}
				if _, err := sess.LoadLocal(ctx, handle); err != nil {
					return err
				}
				return flags.emit(ctx, sess)
			}
			if err := load(); err != nil && !flags.watch {
				return err
			}
			if !flags.watch {
				return nil
			}
			return watchFile(ctx, path, load)
		},
	}
	flags.bind(cmd)
	return cmd
}

// watchFile reloads path whenever it is written or replaced. A failed reload
// keeps the previous scene.
func watchFile(ctx context.Context, path string, load func() error) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	log := logutil.GetLogger(ctx).With(zap.String("file", abs))
	log.Info("watching for changes")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if err := load(); err != nil {
					log.Warn("reload failed, keeping previous scene", zap.Error(err))
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("watcher error", zap.Error(err))
		}
	}
}

func channelURL(server string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(server, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + handler.UploadPath
	return u.String(), nil
}
