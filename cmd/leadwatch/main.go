// Package main runs a headless dashboard session that logs every lead routed to the
// operator's rooms.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/leadrelay/internal/config"
	"github.com/capitalize-ai/leadrelay/internal/dashboard"
	"github.com/capitalize-ai/leadrelay/internal/room"
	"github.com/capitalize-ai/leadrelay/pkg/logger"
)

func main() {
	cfg := config.LoadWatch()

	log, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("leadwatch stopped", zap.Error(err))
	}
}

func run(cfg *config.WatchConfig, log *logger.Logger) error {
	if cfg.Token == "" {
		return errors.New("LEADWATCH_TOKEN is required")
	}
	d, err := room.ParseDisposition(cfg.Disposition)
	if err != nil {
		return fmt.Errorf("LEADWATCH_DISPOSITION %q: %w", cfg.Disposition, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := dashboard.NewClient(cfg.APIURL, cfg.Token, nil)

	areas := cfg.Areas
	if len(areas) == 0 {
		areas, err = client.Areas(ctx)
		if err != nil {
			return fmt.Errorf("lookup areas: %w", err)
		}
	}

	transport := dashboard.NewSocketTransport(client.SocketURL(), client.AuthHeader(), log)
	if err := transport.Connect(ctx); err != nil {
		// Run keeps redialing; joins are replayed once connected.
		log.Warn("initial connect failed", zap.Error(err))
	}

	sess := dashboard.NewSession(transport, client, log,
		dashboard.WithNotifier(dashboard.LogNotifier{Logger: log.Component("notice")}),
		dashboard.WithJoinRetry(cfg.JoinRetry),
	)

	// Seed the list with what is already there so only new leads raise notices.
	for _, area := range areas {
		existing, err := client.Leads(ctx, string(d), area)
		if err != nil {
			log.Warn("failed to load existing leads", zap.String("area", area), zap.Error(err))
			continue
		}
		for i := len(existing) - 1; i >= 0; i-- {
			sess.Manager.Leads().Prepend(existing[i])
		}
	}

	runErr := make(chan error, 1)
	go func() { runErr <- transport.Run(ctx, sess.Manager) }()

	sub, err := sess.Subscribe(ctx, areas, d)
	if err != nil {
		return err
	}
	log.Info("watching leads",
		zap.String("disposition", string(d)),
		zap.Strings("rooms", roomNames(sub.Keys())),
		zap.Int("known_leads", sess.Manager.Leads().Len()),
	)

	select {
	case <-ctx.Done():
	case err := <-runErr:
		if err != nil && ctx.Err() == nil {
			return err
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess.Close(closeCtx)
	_ = transport.Close()
	log.Info("leadwatch stopped")
	return ctx.Err()
}

func roomNames(keys []room.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}
