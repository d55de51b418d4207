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

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"echopay/internal/api"
	"echopay/internal/chain"
	"echopay/internal/config"
	"echopay/internal/enrich"
	"echopay/internal/indexer"
	"echopay/internal/notify"
	"echopay/internal/storage"
	"echopay/internal/storage/postgres"
)

func runService(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.ValidateService(); err != nil {
		return err
	}
	if _, err := indexer.ParseContract(cfg.Contract); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	chainID := cfg.ChainID
	if chainID == 0 {
		id, err := chainClient.GetChainID(ctx)
		if err != nil {
			return fmt.Errorf("get chain id: %w", err)
		}
		if !id.IsUint64() {
			return fmt.Errorf("chain id does not fit in uint64: %s", id)
		}
		chainID = id.Uint64()
	}

	var (
		receipts storage.ReceiptStore
		cursors  storage.CursorStore
	)
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		receipts, cursors = store, store
	} else {
		logger.Warn("no pg-dsn configured, receipts are kept in memory")
		memory := storage.NewMemoryStore()
		receipts, cursors = memory, memory
	}
	if cfg.Checkpoint != "" {
		cursors = indexer.NewFileCursorStore(cfg.Checkpoint)
	}

	var metaCache enrich.MetaCache = enrich.NewMemoryMetaCache()
	if cfg.RedisAddr != "" {
		redisCache, err := enrich.NewRedisMetaCache(ctx, cfg.RedisAddr, chainID, cfg.MetaCacheTTL, logger)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisCache.Close()
		metaCache = redisCache
	}

	resolver := enrich.NewResolver(enrich.Config{
		NativeSymbol: cfg.NativeSymbol,
		StableSymbol: cfg.StableSymbol,
		NativeUSD:    cfg.NativeUSD,
		Known:        cfg.TokenMeta,
		CallTimeout:  cfg.RPCTimeout,
	}, chainClient, metaCache, logger.Named("enrich"))

	var (
		notifier   indexer.Notifier
		dispatcher *notify.Dispatcher
	)
	if cfg.NotifyEnabled() {
		sender, err := notify.NewSendGridSender(cfg.SendGridKey)
		if err != nil {
			return err
		}
		dispatcher = notify.NewDispatcher(notify.Config{
			From:  cfg.FromEmail,
			To:    cfg.NotifyTo,
			Links: notify.Links{PublicBase: cfg.PublicBase, Explorer: cfg.Explorer},
		}, sender, logger.Named("notify"))
		notifier = dispatcher
	}

	poller, err := indexer.NewPoller(indexer.Config{
		ChainID:        chainID,
		Contract:       cfg.Contract,
		FinalityBuffer: cfg.FinalityBuffer,
		PollInterval:   cfg.PollInterval,
		StartBlock:     cfg.StartBlock,
		BatchSize:      cfg.BatchSize,
		RPCTimeout:     cfg.RPCTimeout,
		MaxRetries:     cfg.MaxRetries,
		RetryBackoff:   cfg.RetryBackoff,
	}, chainClient, resolver, receipts, cursors, notifier, logger.Named("poller"))
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.New(api.Config{PublicBase: cfg.PublicBase, PayWebBase: cfg.PayWebBase, Explorer: cfg.Explorer}, receipts, logger.Named("api")).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("echopay start",
		zap.String("rpc", cfg.RPCURL),
		zap.Uint64("chain_id", chainID),
		zap.String("contract", cfg.Contract),
		zap.Uint64("finality_buffer", cfg.FinalityBuffer),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.Bool("postgres", cfg.PGDSN != ""),
		zap.Bool("redis", cfg.RedisAddr != ""),
		zap.Bool("notify", cfg.NotifyEnabled()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return poller.Run(gctx)
	})
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if dispatcher != nil {
		dispatcher.Wait()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("echopay stopped")
	return nil
}
