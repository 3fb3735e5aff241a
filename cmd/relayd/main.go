// relayd runs the broadcast relay server with its admin HTTP endpoint.
// Usage: go run ./cmd/relayd --config configs/relayd.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/effekt/internal/config"
	"github.com/rickgao/effekt/internal/database"
	"github.com/rickgao/effekt/internal/logger"
	"github.com/rickgao/effekt/internal/relay"
	"github.com/rickgao/effekt/internal/version"
	"github.com/rickgao/effekt/internal/writer"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults when empty)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	log.Info("starting relayd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	if err := run(cfg, log); err != nil {
		log.Error("relayd failed", "error", err)
		os.Exit(1)
	}
	log.Info("relayd stopped")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadAndValidate(path)
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts []relay.ServerOption
	var db relay.Pinger
	var sessions *writer.SessionWriter

	if cfg.Audit.Enabled {
		log.Info("connecting to audit database",
			"host", cfg.Audit.Database.Host,
			"port", cfg.Audit.Database.Port,
			"database", cfg.Audit.Database.Name,
		)

		pool, err := database.Connect(ctx, cfg.Audit.Database)
		if err != nil {
			return fmt.Errorf("audit database: %w", err)
		}
		defer pool.Close()

		if cfg.Audit.Migrate {
			if err := database.RunMigrations(ctx, database.BuildConnString(cfg.Audit.Database)); err != nil {
				return fmt.Errorf("audit migrations: %w", err)
			}
			log.Info("audit migrations applied")
		}

		sessions = writer.NewSessionWriter(cfg.Audit.Writer, pool, log)
		if err := sessions.Start(ctx); err != nil {
			return fmt.Errorf("session writer: %w", err)
		}
		opts = append(opts, relay.WithSessionObserver(sessions))
		db = pool
	}

	srv := relay.NewServer(relay.ServerConfig{
		Address:       cfg.Server.Address,
		WriteTimeout:  cfg.Server.WriteTimeout,
		ShutdownGrace: cfg.Server.ShutdownGrace,
		MaxFrameSize:  cfg.Server.MaxFrameSize,
		PingInterval:  cfg.Server.PingInterval,
	}, log, opts...)

	if err := srv.Listen(); err != nil {
		return err
	}

	admin := &http.Server{
		Addr:              cfg.Server.AdminAddress,
		Handler:           relay.NewAdminRouter(srv, db, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Serve(gctx)
	})

	g.Go(func() error {
		log.Info("starting admin server", "addr", admin.Addr)
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace+5*time.Second)
		defer cancel()

		if err := admin.Shutdown(shutdownCtx); err != nil {
			log.Warn("admin shutdown", "error", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("relay shutdown", "error", err)
		}
		return nil
	})

	log.Info("relayd running",
		"relay_addr", srv.Addr().String(),
		"admin_url", fmt.Sprintf("http://%s/health", cfg.Server.AdminAddress),
	)

	err := g.Wait()

	if sessions != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := sessions.Stop(stopCtx); serr != nil {
			log.Warn("session writer stop", "error", serr)
		}
	}

	if errors.Is(err, relay.ErrServerClosed) {
		return nil
	}
	return err
}
