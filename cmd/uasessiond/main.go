// uasessiond runs the session subsystem as a standalone daemon: a TCP channel
// listener, the serialized session server with its expiration sweep, and the
// diagnostics surface (HTTP endpoint, optional Redis publisher).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cyberinferno/uasession/diagnostics"
	"github.com/cyberinferno/uasession/logger"
	"github.com/cyberinferno/uasession/securechannel"
	"github.com/cyberinferno/uasession/server"
	"github.com/cyberinferno/uasession/sessiontable"
)

type options struct {
	addr            string
	httpAddr        string
	maxSessions     int
	maxLifetime     time.Duration
	startSessionID  uint32
	sweepInterval   time.Duration
	summaryTTL      time.Duration
	redisAddr       string
	redisKey        string
	publishInterval time.Duration
	debug           bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:   "uasessiond",
		Short: "Stateful session server daemon",
		Long: `uasessiond accepts transport connections, manages the table of active
sessions (bounded capacity, sequential id/token allocation, negotiated
timeouts), evicts expired sessions, and serves session diagnostics over HTTP
and optionally Redis.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", ":4840", "channel listener address")
	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", "127.0.0.1:8660", "diagnostics HTTP address")
	cmd.Flags().IntVar(&opts.maxSessions, "max-sessions", sessiontable.DefaultMaxSessionCount, "maximum concurrently active sessions")
	cmd.Flags().DurationVar(&opts.maxLifetime, "max-session-lifetime", sessiontable.DefaultMaxSessionLifetime, "upper bound on negotiated session timeouts")
	cmd.Flags().Uint32Var(&opts.startSessionID, "start-session-id", 1, "seed for the session identifier counter")
	cmd.Flags().DurationVar(&opts.sweepInterval, "sweep-interval", server.DefaultSweepInterval, "period between expiration sweeps")
	cmd.Flags().DurationVar(&opts.summaryTTL, "summary-ttl", 5*time.Second, "diagnostics summary cache TTL")
	cmd.Flags().StringVar(&opts.redisAddr, "redis-addr", "", "Redis address for diagnostics publishing (disabled when empty)")
	cmd.Flags().StringVar(&opts.redisKey, "redis-key", "uasession:diagnostics", "Redis key for published summaries")
	cmd.Flags().DurationVar(&opts.publishInterval, "publish-interval", 15*time.Second, "period between diagnostics publishes")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	return cmd
}

func run(ctx context.Context, opts options) error {
	level := zerolog.InfoLevel
	if opts.debug {
		level = zerolog.DebugLevel
	}
	log := logger.NewZerologLogger(zerolog.New(os.Stdout), "uasessiond", level)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(server.Config{
		Table: sessiontable.Config{
			MaxSessionCount:    opts.maxSessions,
			MaxSessionLifetime: opts.maxLifetime,
			StartSessionID:     opts.startSessionID,
		},
		SweepInterval: opts.sweepInterval,
		Logger:        log,
	})
	srv.Start()

	manager := securechannel.NewManager(securechannel.Config{
		Addr:   opts.addr,
		Logger: log,
		OnFrame: func(ch *securechannel.SecureChannel, _ []byte) {
			// Any traffic on a channel counts as keep-alive for its session.
			if sess := ch.Session(); sess != nil {
				_ = srv.Touch(sess.ID())
			}
		},
		OnClose: func(ch *securechannel.SecureChannel) {
			// A closed channel releases its session binding; the session
			// itself lives on until it expires or is closed explicitly.
			if sess := ch.Session(); sess != nil {
				_ = srv.UnbindSession(sess.ID())
			}
		},
	})
	if err := manager.Start(); err != nil {
		srv.Shutdown()
		return err
	}

	collector := diagnostics.NewCollector(srv.Stats, opts.summaryTTL)

	httpServer := &http.Server{
		Addr:    opts.httpAddr,
		Handler: diagnostics.NewHandler(collector),
	}
	httpErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()
	log.Info("diagnostics endpoint started", logger.Field{Key: "addr", Value: opts.httpAddr})

	var redisClient *redis.Client
	if opts.redisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: opts.redisAddr})
		publisher := diagnostics.NewPublisher(redisClient, opts.redisKey, 4*opts.publishInterval, log)
		go publisher.Run(ctx, collector, opts.publishInterval)
		log.Info("diagnostics publisher started",
			logger.Field{Key: "redis", Value: opts.redisAddr},
			logger.Field{Key: "key", Value: opts.redisKey},
		)
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-httpErr:
		log.Error("diagnostics endpoint failed", logger.Field{Key: "error", Value: err})
	}

	manager.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	if redisClient != nil {
		_ = redisClient.Close()
	}

	srv.Shutdown()
	return nil
}
