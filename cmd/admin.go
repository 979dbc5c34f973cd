package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/riftline/axonconnect/admin"
	"github.com/riftline/axonconnect/config"
	"github.com/riftline/axonconnect/connection"
)

var adminInvokeCmd = &cobra.Command{
	Use:   "admin-invoke <operation> [payload]",
	Short: "Dial a cluster and invoke one admin operation via the Command channel",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(cfgFile, env)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		payload := ""
		if len(args) == 2 {
			payload = args[1]
		}

		runAdminInvoke(cfg, args[0], []byte(payload))
	},
}

func init() {
	rootCmd.AddCommand(adminInvokeCmd)
}

func runAdminInvoke(cfg *config.Config, operation string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

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
		fmt.Fprintln(os.Stderr, "dial failed:", err)
		os.Exit(1)
	}
	defer conn.Close(ctx)

	adminChannel := admin.New(conn.Command)
	result, err := adminChannel.Invoke(ctx, operation, payload)
	if err != nil {
		fmt.Fprintln(os.Stderr, "admin operation failed:", err)
		os.Exit(1)
	}

	fmt.Println(string(result))
}
