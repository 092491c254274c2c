package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/docchat/internal/backend"
	"github.com/zhouzirui/docchat/internal/config"
	"github.com/zhouzirui/docchat/internal/handler"
	"github.com/zhouzirui/docchat/internal/pkg/logger"
	chatservice "github.com/zhouzirui/docchat/internal/service/chat"
	"github.com/zhouzirui/docchat/internal/service/events"
	"github.com/zhouzirui/docchat/internal/service/watcher"
	"github.com/zhouzirui/docchat/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{}).Fatal("failed to load configuration", zap.Error(err))
	}

	log := logger.New(logger.Options{FilePath: cfg.Log.FilePath, Production: cfg.Log.Production})
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if envErr != nil {
		log.Warn("failed to load .env file, continuing with system environment variables only", zap.Error(envErr))
	}

	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		log.Fatal("failed to open client storage", zap.Error(err))
	}
	defer store.Close()

	clientOpts := []backend.Option{backend.WithLogger(log)}
	if cfg.Backend.Timeout > 0 {
		clientOpts = append(clientOpts, backend.WithTimeout(cfg.Backend.Timeout))
	}
	backendClient := backend.NewClient(cfg.Backend.BaseURL, clientOpts...)

	bus := events.NewBus(log)
	defer bus.Close()

	chatSvc := chatservice.NewService(backendClient, store,
		chatservice.WithPublisher(bus),
		chatservice.WithLogger(log),
	)

	// 恢复上次会话；失败不影响启动。
	if err := chatSvc.Restore(ctx); err != nil {
		log.Warn("failed to restore previous session", zap.Error(err))
	}

	if dir := cfg.Upload.WatchDir; dir != "" {
		w := watcher.New(chatSvc, log)
		go func() {
			if err := w.Run(ctx, dir); err != nil {
				log.Error("upload watcher stopped", zap.Error(err))
			}
		}()
	} else {
		log.Info("UPLOAD_WATCH_DIR 未配置，跳过自动上传")
	}

	router := handler.NewRouter(chatSvc, bus, cfg.Server.AllowedOrigins, log)

	startServer(ctx, cfg.Server, router, log)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, log *zap.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info("docchat client listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
