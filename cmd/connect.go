package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	slogctx "github.com/veqryn/slog-context"

	"github.com/riftline/axonconnect/command"
	"github.com/riftline/axonconnect/config"
	"github.com/riftline/axonconnect/connection"
	"github.com/riftline/axonconnect/internal/proto"
	"github.com/riftline/axonconnect/metrics"
	"github.com/riftline/axonconnect/query"
)

var adminAddr string

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Dial a cluster and serve a demo echo command plus a demo ping query until interrupted",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(cfgFile, env)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		runConnect(cfg)
	},
}

func init() {
	connectCmd.Flags().StringVar(&adminAddr, "admin-addr", ":8081", "address to serve /metrics and /debug/pprof on")
	rootCmd.AddCommand(connectCmd)
}

// runConnect is grounded on the teacher's cmd/server.go startServer: load
// config, build the logger, wire the dependent services around one shared
// connection, and block until signalled.
func runConnect(cfg *config.Config) {
	logger, cleanup := SetupLogger()
	defer cleanup()
	ctx := slogctx.NewCtx(context.Background(), logger)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		http.Handle("/metrics", metrics.Handler())
		logger.Info("admin endpoint listening", "addr", adminAddr, "paths", []string{"/metrics", "/debug/pprof/"})
		if err := http.ListenAndServe(adminAddr, nil); err != nil && err != http.ErrServerClosed {
			logger.Error("admin endpoint stopped", "err", err)
		}
	}()

	conn, err := connection.Open(ctx, connection.Config{
		Target:     cfg.Server.Target,
		TLSEnabled: cfg.Server.TLS.Enabled,
		Identity: connection.ClientIdentity{
			ClientID:      cfg.Identity.ClientID,
			ComponentName: cfg.Identity.ComponentName,
		},
		Backoff:     cfg.Backoff(),
		Permits:     cfg.FlowControl.Permits,
		RefillBatch: cfg.FlowControl.RefillBatch,
	})
	if err != nil {
		logger.Error("dial failed", "err", err)
		os.Exit(1)
	}

	registerDemoCommandHandler(conn.Command, logger)
	registerDemoQueryHandler(conn.Query, logger)

	conn.Connect(ctx)

	fmt.Printf("axonctl connected to %s as %s/%s\n", cfg.Server.Target, cfg.Identity.ClientID, cfg.Identity.ComponentName)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Close(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
}

func registerDemoCommandHandler(commands *command.Channel, logger interface {
	Info(msg string, args ...any)
}) {
	reg := commands.RegisterHandler(func(ctx context.Context, cmd *proto.Command) ([]byte, error) {
		logger.Info("handling demo command", "name", cmd.Name, "messageId", cmd.MessageID)
		return json.Marshal(map[string]string{"echo": string(cmd.Payload)})
	}, 100, "axonctl.echo")

	go func() {
		if err := reg.Wait(context.Background()); err != nil {
			logger.Info("demo command subscription failed", "err", err)
		}
	}()
}

func registerDemoQueryHandler(queries *query.Channel, logger interface {
	Info(msg string, args ...any)
}) {
	queries.RegisterQueryHandler(func(ctx context.Context, q *proto.Query) ([]byte, error) {
		logger.Info("handling demo query", "name", q.QueryName, "messageId", q.MessageID)
		return json.Marshal(map[string]string{"pong": string(q.Payload)})
	}, query.Definition{QueryName: "axonctl.ping", ResultType: "axonctl.pong"})
}
