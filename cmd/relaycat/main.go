// relaycat joins a relay, prints the events it subscribes to and optionally
// emits a periodic event of its own.
// Usage: go run ./cmd/relaycat --uri fkt://localhost:6789 --on ping,pong --emit ping
//        go run ./cmd/relaycat --values values.yaml --on ping
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/effekt/internal/api"
	"github.com/rickgao/effekt/internal/clock"
	"github.com/rickgao/effekt/internal/config"
	"github.com/rickgao/effekt/internal/connection"
	"github.com/rickgao/effekt/internal/logger"
	"github.com/rickgao/effekt/internal/mirror"
	"github.com/rickgao/effekt/internal/relay"
	"github.com/rickgao/effekt/internal/router"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults when empty)")
	valuesPath := flag.String("values", "", "YAML/JSON values file merged over config values")
	uri := flag.String("uri", "", "relay URI (overrides config)")
	on := flag.String("on", "", "comma-separated events to print")
	emit := flag.String("emit", "", "event to emit periodically")
	interval := flag.Duration("interval", time.Second, "emit interval")
	passive := flag.Bool("passive", false, "receive only, never send local events")
	verbose := flag.Bool("verbose", false, "print full payload JSON")
	status := flag.String("status", "", "print health and clients from a relayd admin URL, then exit")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := loadValues(cfg, *valuesPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load values: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging)

	if *status != "" {
		if err := printStatus(*status, log); err != nil {
			log.Error("status query failed", "admin", *status, "error", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rtr := router.New(log)

	// Log every fired event, local or relayed
	if err := rtr.AddExtension(router.ExtensionFunc(func(ctx context.Context, name string, payload router.Payload) {
		_, relayed := relay.RelayedBy(ctx)
		log.Info("event", "name", name, "relayed", relayed, "keys", len(payload))
	})); err != nil {
		log.Error("failed to attach event logger", "error", err)
		os.Exit(1)
	}

	for _, name := range splitEvents(*on) {
		if _, err := rtr.Register(name, 0, printer(name, *verbose)); err != nil {
			log.Error("failed to register event", "event", name, "error", err)
			os.Exit(1)
		}
	}

	// Mirror every fired event to NATS
	if cfg.Mirror.Enabled {
		m, err := mirror.Connect(cfg.Mirror.URL, cfg.Mirror.SubjectPrefix, log)
		if err != nil {
			log.Error("failed to start mirror", "error", err)
			os.Exit(1)
		}
		defer m.Close()
		if err := rtr.AddExtension(m); err != nil {
			log.Error("failed to attach mirror", "error", err)
			os.Exit(1)
		}
	}

	target := resolveURI(*uri, cfg)
	client, err := relay.NewClient(ctx, target, log, clientOptions(cfg.Client)...)
	if err != nil {
		log.Error("invalid relay uri", "uri", target, "error", err)
		os.Exit(1)
	}
	defer client.Close()

	if err := client.Attach(rtr, *passive); err != nil {
		log.Error("failed to attach router", "error", err)
		os.Exit(1)
	}

	var clk *clock.Clock
	if *emit != "" {
		// Fire needs at least one listener for the name.
		if !rtr.Has(*emit) {
			if _, err := rtr.Register(*emit, 0, printer(*emit, *verbose)); err != nil {
				log.Error("failed to register event", "event", *emit, "error", err)
				os.Exit(1)
			}
		}

		clk = clock.New(rtr, log)
		payload := router.Payload{"source": client.ID()}
		if err := clk.Start(ctx, *emit, *interval, payload); err != nil {
			log.Error("failed to start clock", "error", err)
			os.Exit(1)
		}
	}

	log.Info("relaycat running - press Ctrl+C to stop",
		"uri", target,
		"client", client.ID(),
		"events", rtr.Events(),
		"passive", *passive,
	)

	<-ctx.Done()

	log.Info("shutting down...")
	if clk != nil {
		clk.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rtr.Close(shutdownCtx); err != nil {
		log.Warn("router close", "error", err)
	}

	stats := client.Stats()
	log.Info("shutdown complete",
		"sent", stats.Sent,
		"received", stats.Received,
		"dropped", stats.Dropped,
		"reconnects", stats.Reconnects,
	)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadAndValidate(path)
}

// loadValues merges the values file at path over cfg.Values.
func loadValues(cfg *config.Config, path string) error {
	if path == "" {
		return nil
	}
	v, err := config.LoadValues(path)
	if err != nil {
		return err
	}
	for k, val := range v {
		cfg.Values.Set(k, val)
	}
	return nil
}

// resolveURI picks the flag, then client.uri, then values.GATEWAY_CONNECTION_URI.
func resolveURI(flagURI string, cfg *config.Config) string {
	if flagURI != "" {
		return flagURI
	}
	if cfg.Client.URI != "" {
		return cfg.Client.URI
	}
	return relay.URIFromProvider(cfg.Values)
}

func clientOptions(c config.ClientConfig) []relay.ClientOption {
	base, maxDelay := c.ReconnectBaseDelay, c.ReconnectMaxDelay
	if c.NoBackgroundReconnect {
		base, maxDelay = 0, 0
	}
	return []relay.ClientOption{
		relay.WithTransport(connection.Config{
			DialTimeout:  c.DialTimeout,
			WriteTimeout: c.WriteTimeout,
			MaxFrameSize: c.MaxFrameSize,
			WSPath:       c.WSPath,
		}),
		relay.WithReconnectBackoff(base, maxDelay),
	}
}

func splitEvents(s string) []string {
	var out []string
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func printer(name string, verbose bool) router.Callback {
	return func(ctx context.Context, payload router.Payload) error {
		origin := "local"
		if id, ok := relay.RelayedBy(ctx); ok {
			origin = "relay:" + id
		}

		if verbose {
			data, err := json.MarshalIndent(payload, "", "  ")
			if err != nil {
				return err
			}
			fmt.Printf("[%s] %s %s\n", origin, name, data)
			return nil
		}
		fmt.Printf("[%s] %s keys=%d\n", origin, name, len(payload))
		return nil
	}
}

func printStatus(adminURL string, log *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	c := api.NewClient(adminURL, api.WithLogger(log))

	info, err := c.Version(ctx)
	if err != nil {
		return err
	}
	report, err := c.Health(ctx)
	if err != nil && report.Status == "" {
		return err
	}
	fmt.Printf("relayd %s (%s, %s) status=%s state=%s clients=%d broadcasts=%d\n",
		info.Version, info.Commit, info.GoVersion,
		report.Status, report.Server.State, report.Server.Clients, report.Server.Broadcasts)

	clients, err := c.Clients(ctx)
	if err != nil {
		return err
	}
	for _, ci := range clients {
		fmt.Printf("  %s %s %s in=%d out=%d malformed=%d since=%s\n",
			ci.ID, ci.Transport, ci.RemoteAddr, ci.FramesIn, ci.FramesOut, ci.Malformed,
			ci.ConnectedAt.Format(time.RFC3339))
	}
	return nil
}
