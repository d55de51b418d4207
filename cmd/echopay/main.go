package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "echopay",
		Short:        "Payment receipt ingestion and lookup service",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the receipt poller and HTTP API",
		RunE:  runService,
	}

	runCmd.Flags().String("rpc", "", "chain RPC URL")
	runCmd.Flags().Uint64("chain-id", 0, "chain id, 0 means ask the node")
	runCmd.Flags().String("contract", "", "PayAndReceipt contract address")
	runCmd.Flags().Uint64("finality-buffer", 2, "blocks behind head treated as final")
	runCmd.Flags().Duration("poll-interval", 2*time.Second, "poll interval")
	runCmd.Flags().Uint64("start-block", 0, "first block to ingest when no cursor is stored")
	runCmd.Flags().Uint64("batch-size", 2000, "blocks per getLogs request")
	runCmd.Flags().Duration("rpc-timeout", 10*time.Second, "timeout for each RPC call")
	runCmd.Flags().Int("max-retries", 5, "startup retry attempts for the head query")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().StringSlice("token-meta", nil, "static token metadata (address=SYMBOL:decimals, comma-separated)")
	runCmd.Flags().String("native-symbol", "S", "native asset display symbol")
	runCmd.Flags().String("stable-symbol", "USDC", "stablecoin symbol priced at 1 USD")
	runCmd.Flags().String("native-usd", "0.10", "static USD price of one native unit")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN, empty keeps receipts in memory")
	runCmd.Flags().String("redis-addr", "", "Redis address for the token metadata cache")
	runCmd.Flags().Duration("meta-cache-ttl", 24*time.Hour, "token metadata cache TTL")
	runCmd.Flags().String("checkpoint", "", "optional cursor checkpoint file (requires --pg-dsn)")
	runCmd.Flags().String("http-addr", ":4000", "HTTP listen address")
	runCmd.Flags().String("public-base", "http://localhost:4000", "public base URL of this API")
	runCmd.Flags().String("pay-web-base", "http://localhost:3000", "base URL of the pay web app")
	runCmd.Flags().String("explorer", "https://testnet.sonicscan.org", "block explorer base URL")
	runCmd.Flags().String("sendgrid-key", "", "SendGrid API key")
	runCmd.Flags().String("from-email", "receipts@echopay.test", "notification sender address")
	runCmd.Flags().String("notify-to", "", "notification recipient address")

	root.AddCommand(runCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres schema",
		RunE:  runMigrate,
	}

	migrateCmd.Flags().String("pg-dsn", "", "Postgres DSN")

	root.AddCommand(migrateCmd)

	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Print a merchant summary as JSON",
		RunE:  runSummary,
	}

	summaryCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	summaryCmd.Flags().String("merchant", "", "merchant wallet address")

	root.AddCommand(summaryCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
