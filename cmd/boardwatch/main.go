// Command boardwatch monitors a freight load board and, when configured,
// books matching loads automatically.
//
// Usage:
//
//	boardwatch -url https://board.example.com              # defaults, HTTP API on :8470
//	boardwatch -config boardwatch.yaml -url https://...    # full config
//	boardwatch -url https://... -auto-book                 # arm auto-booking
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/boardwatch/api"
	"github.com/hazyhaar/boardwatch/board"
	"github.com/hazyhaar/boardwatch/dom/roddom"
	"github.com/hazyhaar/boardwatch/engine"
	"github.com/hazyhaar/boardwatch/store"
)

func main() {
	configPath := flag.String("config", "", "path to boardwatch.yaml config file")
	boardURL := flag.String("url", "", "board URL to monitor")
	remote := flag.String("remote", "", "existing browser control URL (default: launch headless)")
	headful := flag.Bool("headful", false, "launch the browser with a visible window")
	listen := flag.String("listen", ":8470", "HTTP control API listen address")
	mcpStdio := flag.Bool("mcp", false, "also serve the control surface as MCP tools over stdio")
	autoBook := flag.Bool("auto-book", false, "enqueue matching loads for booking automatically")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *boardURL, *remote, *listen, *headful, *autoBook, *mcpStdio); err != nil {
		logger.Error("boardwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, boardURL, remote, listen string, headful, autoBook, mcpStdio bool) error {
	if boardURL == "" {
		fmt.Fprintln(os.Stderr, "usage: boardwatch -url <board url> [-config <file>]")
		os.Exit(1)
	}

	cfg := &engine.Config{}
	if configPath != "" {
		loaded, err := engine.LoadConfigFile(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	src, err := roddom.Open(ctx, roddom.Config{
		URL:     boardURL,
		Remote:  remote,
		Headful: headful,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer src.Close()

	eng := engine.New(*cfg, src, st, logger)
	defer eng.Close()

	var criteria *board.Criteria
	if autoBook {
		c := st.LoadCriteria(ctx)
		c.AutoBook = true
		criteria = &c
	}
	if !eng.Start(ctx, criteria) {
		return fmt.Errorf("engine did not start")
	}

	srv := &http.Server{
		Addr:              listen,
		Handler:           api.New(eng, st, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("boardwatch: control API listening", "addr", listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("boardwatch: http server", "error", err)
		}
	}()

	if mcpStdio {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "boardwatch", Version: "0.1.0"}, nil)
		eng.RegisterMCP(mcpSrv)
		go func() {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("boardwatch: mcp server", "error", err)
			}
		}()
	}

	<-ctx.Done()

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutCtx)
	return nil
}
