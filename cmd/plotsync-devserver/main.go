// Local sync service for development: the project wire contract over
// HTTP with a SQLite store, plus the presence websocket. The desktop
// client points at it with PLOTSYNC_BASE_URL or config base_url.
//
// Usage: go run ./cmd/plotsync-devserver --addr 127.0.0.1:8787 --db plots.db
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/stagelight/plotsync/internal/devserver"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8787", "listen address")
	dbPath := flag.String("db", "", "SQLite database path (empty keeps projects in memory)")
	token := flag.String("token", "", "require this bearer token on every request")
	verbose := flag.Bool("verbose", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store, err := devserver.NewStore(*dbPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	srv := devserver.New(devserver.Config{Store: store, Logger: logger, Token: *token})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx, *addr); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "devserver: %v\n", err)
		os.Exit(1)
	}
}
