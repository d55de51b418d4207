package indexer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"echopay/internal/enrich"
	"echopay/internal/metrics"
	"echopay/internal/model"
	"echopay/internal/payment"
	"echopay/internal/storage"
)

const (
	DefaultFinalityBuffer = 2
	DefaultPollInterval   = 2 * time.Second
	DefaultBatchSize      = 2000
	DefaultRPCTimeout     = 10 * time.Second
	DefaultCursorName     = "receipt_poller"
)

// ChainReader is the subset of the chain client the poller needs.
type ChainReader interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, address common.Address, topic0 common.Hash) ([]types.Log, error)
}

// Enricher resolves token metadata and a USD estimate. It never fails.
type Enricher interface {
	Resolve(ctx context.Context, token common.Address, amount string, hint enrich.Hint) enrich.Resolution
}

// Notifier dispatches a best-effort notification for a new receipt. It must not block.
type Notifier interface {
	Notify(receipt model.Receipt)
}

// Config holds runtime settings for the poller.
type Config struct {
	ChainID        uint64
	Contract       string
	FinalityBuffer uint64
	PollInterval   time.Duration
	// StartBlock is used when no cursor has been persisted yet.
	StartBlock   uint64
	BatchSize    uint64
	RPCTimeout   time.Duration
	CursorName   string
	MaxRetries   int
	RetryBackoff time.Duration
}

// Poller ingests ReceiptIssued events between its cursor and the finalized head.
type Poller struct {
	cfg      Config
	contract common.Address
	chain    ChainReader
	decoder  *payment.Decoder
	enricher Enricher
	receipts storage.ReceiptStore
	cursors  storage.CursorStore
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time

	chainLabel  string
	cursor      uint64
	initialized bool
}

// NewPoller validates cfg and builds a Poller. cursors and notifier may be nil.
func NewPoller(
	cfg Config,
	chainReader ChainReader,
	enricher Enricher,
	receipts storage.ReceiptStore,
	cursors storage.CursorStore,
	notifier Notifier,
	logger *zap.Logger,
) (*Poller, error) {
	contract, err := ParseContract(cfg.Contract)
	if err != nil {
		return nil, err
	}
	if chainReader == nil {
		return nil, fmt.Errorf("chain reader is nil")
	}
	if enricher == nil {
		return nil, fmt.Errorf("enricher is nil")
	}
	if receipts == nil {
		return nil, fmt.Errorf("receipt store is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = DefaultRPCTimeout
	}
	if cfg.CursorName == "" {
		cfg.CursorName = DefaultCursorName
	}

	decoder, err := payment.NewDecoder()
	if err != nil {
		return nil, err
	}

	return &Poller{
		cfg:        cfg,
		contract:   contract,
		chain:      chainReader,
		decoder:    decoder,
		enricher:   enricher,
		receipts:   receipts,
		cursors:    cursors,
		notifier:   notifier,
		logger:     logger.With(zap.String("contract", contract.Hex())),
		now:        time.Now,
		chainLabel: strconv.FormatUint(cfg.ChainID, 10),
	}, nil
}

// Cursor returns the last fully processed block.
func (p *Poller) Cursor() uint64 {
	return p.cursor
}

// Init sets the starting cursor. A persisted cursor wins; otherwise the cursor
// starts at max(StartBlock, head - FinalityBuffer), clamped at zero.
func (p *Poller) Init(ctx context.Context) error {
	if p.cursors != nil {
		block, ok, err := p.cursors.LoadCursor(ctx, p.cfg.CursorName)
		if err != nil {
			return fmt.Errorf("load cursor: %w", err)
		}
		if ok {
			p.setCursor(block)
			p.initialized = true
			p.logger.Info("resume from cursor", zap.Uint64("last_processed", block))
			return nil
		}
	}

	var head uint64
	policy := retryPolicy{MaxRetries: p.cfg.MaxRetries, BaseDelay: p.cfg.RetryBackoff, MaxDelay: p.cfg.PollInterval * 4}
	err := withRetry(ctx, policy, func(ctx context.Context) error {
		var err error
		head, err = p.latestBlock(ctx)
		if err != nil {
			p.logger.Warn("get latest block failed", zap.Error(err))
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("get latest block: %w", err)
	}

	start := finalizedTarget(head, p.cfg.FinalityBuffer)
	if p.cfg.StartBlock > start {
		start = p.cfg.StartBlock
	}
	p.setCursor(start)
	p.initialized = true
	p.logger.Info("poller initialized", zap.Uint64("head", head), zap.Uint64("cursor", start))
	return nil
}

// Run initializes the cursor if needed and ticks every PollInterval until ctx is done.
// Tick errors are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) error {
	if !p.initialized {
		if err := p.Init(ctx); err != nil {
			return err
		}
	}

	p.logger.Info("poller started",
		zap.Duration("interval", p.cfg.PollInterval),
		zap.Uint64("finality_buffer", p.cfg.FinalityBuffer),
		zap.Uint64("cursor", p.cursor),
	)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := p.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("tick failed", zap.Uint64("cursor", p.cursor), zap.Error(err))
		}
	}
}

// Tick runs one poll cycle: it ingests every receipt in (cursor, head - FinalityBuffer]
// and advances the cursor after each fully ingested batch.
func (p *Poller) Tick(ctx context.Context) error {
	if !p.initialized {
		return errors.New("poller not initialized")
	}

	started := time.Now()
	metrics.PollerTicksTotal.WithLabelValues(p.chainLabel).Inc()
	defer func() {
		metrics.PollerTickLatency.WithLabelValues(p.chainLabel).Observe(time.Since(started).Seconds())
	}()

	head, err := p.latestBlock(ctx)
	if err != nil {
		metrics.PollerTickErrors.WithLabelValues(p.chainLabel, "head").Inc()
		return fmt.Errorf("get latest block: %w", err)
	}
	metrics.PollerHead.WithLabelValues(p.chainLabel).Set(float64(head))

	target := finalizedTarget(head, p.cfg.FinalityBuffer)
	if target <= p.cursor {
		p.logger.Debug("nothing to sync", zap.Uint64("cursor", p.cursor), zap.Uint64("target", target))
		return nil
	}

	ranges, err := SplitRange(p.cursor+1, target, p.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := p.ingestRange(ctx, blockRange); err != nil {
			return err
		}
		if err := p.advance(ctx, blockRange.To); err != nil {
			metrics.PollerTickErrors.WithLabelValues(p.chainLabel, "cursor").Inc()
			return err
		}
	}

	return nil
}

func (p *Poller) ingestRange(ctx context.Context, blockRange BlockRange) error {
	p.logger.Debug("fetch logs",
		zap.Uint64("from", blockRange.From),
		zap.Uint64("to", blockRange.To),
		zap.Uint64("blocks", blockRange.Blocks()),
	)

	logs, err := p.filterLogs(ctx, blockRange)
	if err != nil {
		metrics.PollerTickErrors.WithLabelValues(p.chainLabel, "logs").Inc()
		return fmt.Errorf("filter logs %d-%d: %w", blockRange.From, blockRange.To, err)
	}

	inserted := 0
	skipped := 0
	for _, log := range logs {
		event, err := p.decoder.Decode(log)
		if err != nil {
			skipped++
			metrics.PollerLogsSkipped.WithLabelValues(p.chainLabel).Inc()
			p.logger.Debug("skip log",
				zap.String("tx_hash", log.TxHash.Hex()),
				zap.Uint("log_index", log.Index),
				zap.Error(err),
			)
			continue
		}

		ok, err := p.ingest(ctx, event)
		if err != nil {
			metrics.PollerTickErrors.WithLabelValues(p.chainLabel, "store").Inc()
			return err
		}
		if ok {
			inserted++
		}
	}

	p.logger.Info("batch complete",
		zap.Uint64("from", blockRange.From),
		zap.Uint64("to", blockRange.To),
		zap.Int("logs", len(logs)),
		zap.Int("inserted", inserted),
		zap.Int("skipped", skipped),
	)
	return nil
}

// ingest enriches and stores one event. It reports whether a new receipt was inserted.
func (p *Poller) ingest(ctx context.Context, event model.ReceiptEvent) (bool, error) {
	amount := "0"
	if event.Amount != nil {
		amount = event.Amount.String()
	}
	res := p.enricher.Resolve(ctx, event.Token, amount, enrich.Hint{})
	if res.Symbol == nil {
		metrics.EnrichmentUnresolved.WithLabelValues("symbol").Inc()
	}
	if res.USD == nil {
		metrics.EnrichmentUnresolved.WithLabelValues("usd").Inc()
	}

	receipt := buildReceipt(p.cfg.ChainID, event, res, p.now())
	stored, inserted, err := p.receipts.UpsertReceipt(ctx, receipt)
	if err != nil {
		return false, fmt.Errorf("store receipt %s: %w", event.Code, err)
	}

	if !inserted {
		metrics.ReceiptsIngested.WithLabelValues(p.chainLabel, "duplicate").Inc()
		p.logger.Debug("receipt already stored", zap.String("code", stored.Code))
		return false, nil
	}

	metrics.ReceiptsIngested.WithLabelValues(p.chainLabel, "inserted").Inc()
	fields := []zap.Field{
		zap.String("code", stored.Code),
		zap.String("merchant", stored.Merchant),
		zap.String("token", stored.Token),
		zap.Bool("native", event.IsNative()),
		zap.String("amount", stored.Amount),
		zap.Uint64("block_number", stored.BlockNumber),
	}
	if res.Amount != nil {
		fields = append(fields, zap.String("amount_human", res.Amount.String()))
	}
	p.logger.Info("receipt stored", fields...)
	if p.notifier != nil {
		p.notifier.Notify(stored)
	}
	return true, nil
}

func (p *Poller) advance(ctx context.Context, block uint64) error {
	if block <= p.cursor {
		return nil
	}
	if p.cursors != nil {
		if err := p.cursors.SaveCursor(ctx, p.cfg.CursorName, block); err != nil {
			return fmt.Errorf("save cursor: %w", err)
		}
	}
	p.setCursor(block)
	return nil
}

func (p *Poller) setCursor(block uint64) {
	p.cursor = block
	metrics.PollerCursor.WithLabelValues(p.chainLabel).Set(float64(block))
}

func (p *Poller) latestBlock(ctx context.Context) (uint64, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.RPCTimeout)
	defer cancel()
	return p.chain.LatestBlockNumber(callCtx)
}

func (p *Poller) filterLogs(ctx context.Context, blockRange BlockRange) ([]types.Log, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.RPCTimeout)
	defer cancel()
	return p.chain.FilterLogs(callCtx, blockRange.From, blockRange.To, p.contract, p.decoder.Topic0())
}
