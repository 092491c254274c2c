package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/docchat/internal/backend"
	"github.com/zhouzirui/docchat/internal/config"
	"github.com/zhouzirui/docchat/internal/model/chat"
	"github.com/zhouzirui/docchat/internal/pkg/logger"
	chatservice "github.com/zhouzirui/docchat/internal/service/chat"
	"github.com/zhouzirui/docchat/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置加载失败: %v\n", err)
		os.Exit(1)
	}

	baseURL := flag.String("backend", cfg.Backend.BaseURL, "后端地址")
	driver := flag.String("storage", cfg.Storage.Driver, "会话存储: sqlite 或 memory")
	flag.Parse()

	// stdout 属于对话记录，日志只写文件。
	log := logger.New(logger.Options{FilePath: cfg.Log.FilePath, Quiet: true})
	defer func() { _ = log.Sync() }()

	store, err := storage.Open(*driver, cfg.Storage.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法打开会话存储: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	opts := []backend.Option{backend.WithLogger(log)}
	if cfg.Backend.Timeout > 0 {
		opts = append(opts, backend.WithTimeout(cfg.Backend.Timeout))
	}
	svc := chatservice.NewService(backend.NewClient(*baseURL, opts...), store, chatservice.WithLogger(log))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := newRenderer(os.Stdout)
	if err := svc.Restore(ctx); err != nil {
		log.Warn("restore failed", zap.Error(err))
	}
	r.render(svc.Snapshot())
	r.help()

	if err := repl(ctx, svc, r, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// session is the part of the chat service the REPL drives.
type session interface {
	SetInput(ctx context.Context, text string)
	Send(ctx context.Context) error
	SelectFile(ctx context.Context, f *chat.File)
	Upload(ctx context.Context) (chat.UploadInfo, error)
	Reset(ctx context.Context) error
	Snapshot() chat.Snapshot
}

func repl(ctx context.Context, svc session, r *renderer, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(r.out, "> ")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			return err
		case line := <-lines:
			if quit := handleLine(ctx, svc, r, line); quit {
				return nil
			}
		}
	}
}

// handleLine runs one REPL line and reports whether the user asked to quit.
func handleLine(ctx context.Context, svc session, r *renderer, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	// Every command reports its own outcome, even one identical to the last.
	r.forgetNotice()
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/status":
		snap := svc.Snapshot()
		r.status.Fprintln(r.out, snap.UploadStatus())
		if snap.Session.HasConversation() {
			r.status.Fprintf(r.out, "conversation %s\n", snap.Session.ConversationID)
		}
		if snap.Session.HasDocument() {
			r.status.Fprintf(r.out, "document %s\n", snap.Session.DocumentID)
		}
		return false
	case "/reset":
		if err := svc.Reset(ctx); err != nil {
			r.levels[chat.NoticeError].Fprintf(r.out, "reset incomplete: %v\n", err)
		}
	case "/upload":
		path := strings.TrimSpace(arg)
		if path == "" {
			svc.SelectFile(ctx, nil)
		} else {
			file, err := chat.FileFromPath(path)
			if err != nil {
				r.levels[chat.NoticeError].Fprintf(r.out, "%v\n", err)
				return false
			}
			svc.SelectFile(ctx, file)
		}
		_, _ = svc.Upload(ctx)
	case "/help":
		r.help()
		return false
	default:
		svc.SetInput(ctx, line)
		if strings.TrimSpace(line) == "" {
			return false
		}
		r.status.Fprintln(r.out, "Thinking...")
		_ = svc.Send(ctx)
	}
	r.render(svc.Snapshot())
	return false
}
