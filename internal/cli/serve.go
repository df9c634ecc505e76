package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pavankpdev/rate-limiting-implementation/internal/admission"
	"github.com/pavankpdev/rate-limiting-implementation/internal/chat"
	"github.com/pavankpdev/rate-limiting-implementation/internal/clock"
	"github.com/pavankpdev/rate-limiting-implementation/internal/config"
	"github.com/pavankpdev/rate-limiting-implementation/internal/counter"
	"github.com/pavankpdev/rate-limiting-implementation/internal/identity"
	"github.com/pavankpdev/rate-limiting-implementation/internal/journal"
	"github.com/pavankpdev/rate-limiting-implementation/internal/limiter"
	"github.com/pavankpdev/rate-limiting-implementation/internal/metrics"
	"github.com/pavankpdev/rate-limiting-implementation/internal/server"
	"github.com/pavankpdev/rate-limiting-implementation/internal/worker"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		algorithm  string
		backend    string
		recordFile string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the rate limited chat gateway",
		Long: `Starts the HTTP gateway: requests are checked against per-identity
rate limits, admitted work runs on a bounded worker pool, and every
admission decision is published on the websocket feed.

Endpoints:
  GET  /                       Service info
  GET  /healthz                Health check
  POST /api/login              Exchange credentials for a session token
  POST /api/chat               Rate limited chat
  POST /api/chat/unthrottled   Queued chat, no rate limit
  GET  /api/metrics            Worker pool snapshot
  WS   /ws                     Live admission event feed`,
		Example: `  ratelimitd serve
  ratelimitd serve --config ratelimitd.yaml
  ratelimitd serve --addr :9090 --algorithm sliding_window
  ratelimitd serve --counter redis --record decisions.ndjson`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			// Flags beat both the config file and the environment.
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("algorithm") {
				cfg.Limiter.Algorithm = limiter.Algorithm(algorithm)
			}
			if cmd.Flags().Changed("counter") {
				cfg.Counter.Backend = backend
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cfg, recordFile)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML or JSON config file")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	cmd.Flags().StringVar(&algorithm, "algorithm", "", "rate limiting algorithm (fixed_window, sliding_window, token_bucket)")
	cmd.Flags().StringVar(&backend, "counter", "", "counter store backend (memory, redis)")
	cmd.Flags().StringVar(&recordFile, "record", "", "append admission events to an NDJSON journal")

	return cmd
}

func runServe(cfg config.Config, recordFile string) error {
	clk := clock.NewReal()

	// Graceful shutdown on SIGINT/SIGTERM. The same context stops the
	// memory store janitor.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := newCounterStore(ctx, cfg, clk)
	if err != nil {
		return err
	}
	defer store.Close()

	lim, err := limiter.New(cfg.Limiter.Algorithm, store, clk)
	if err != nil {
		return err
	}

	responder, err := chat.NewResponder(cfg.Chat.MinDelay, cfg.Chat.MaxDelay, clk)
	if err != nil {
		return err
	}
	pool := worker.NewPool(cfg.Pool.Concurrency, cfg.Pool.MaxQueueSize, responder.Respond, clk, metrics.NewCollector())

	hub := server.NewHub()
	sink := admission.MultiSink{hub}
	if recordFile != "" {
		jnl, err := journal.Open(recordFile)
		if err != nil {
			return err
		}
		defer jnl.Close()
		sink = append(sink, jnl)
		log.Printf("recording admission events to %s", recordFile)
	}

	ctrl, err := admission.New(lim, pool, tierResolver(cfg), cfg.Pool.RequestTimeout, clk, sink)
	if err != nil {
		return err
	}

	srv := server.New(cfg.Server.Addr, ctrl, identity.NewIssuer(cfg.Users), pool, hub, clk)

	log.Printf("algorithm=%s concurrency=%d queue=%d timeout=%s",
		cfg.Limiter.Algorithm, cfg.Pool.Concurrency, cfg.Pool.MaxQueueSize, cfg.Pool.RequestTimeout)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Println("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return pool.Close(shutdownCtx)
	}
}

func newCounterStore(ctx context.Context, cfg config.Config, clk clock.Clock) (counter.Store, error) {
	switch cfg.Counter.Backend {
	case config.BackendMemory:
		store := counter.NewMemory(clk)
		store.StartJanitor(ctx, cfg.Counter.Memory.CleanupInterval)
		return store, nil
	case config.BackendRedis:
		store, err := counter.NewRedis(&cfg.Counter.Redis)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		log.Printf("using redis counter store at %s", cfg.Counter.Redis.Addr)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown counter backend %q", cfg.Counter.Backend)
	}
}

func tierResolver(cfg config.Config) admission.TierResolver {
	return func(authenticated bool) limiter.Tier {
		if authenticated {
			return cfg.Tiers.Authenticated.Tier("authenticated")
		}
		return cfg.Tiers.Guest.Tier("guest")
	}
}
