package enrich

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"echopay/internal/model"
)

const (
	nativeDecimals     = 18
	defaultCallTimeout = 5 * time.Second
)

// Config controls token metadata resolution and pricing.
type Config struct {
	NativeSymbol string
	StableSymbol string
	NativeUSD    decimal.Decimal
	// Known maps token addresses to static metadata. The native token is added
	// automatically unless present.
	Known       map[common.Address]model.TokenMeta
	CallTimeout time.Duration
}

// Hint carries caller-asserted metadata. Nil fields are resolved normally.
type Hint struct {
	Symbol   *string
	Decimals *uint8
}

// Resolution is the best-effort enrichment of a payment. Nil fields are unresolved.
type Resolution struct {
	Symbol   *string
	Decimals *uint8
	Amount   *decimal.Decimal
	USD      *decimal.Decimal
}

// Resolver resolves token symbol, decimals and a USD estimate. It never fails:
// every error degrades the affected field to nil.
type Resolver struct {
	cfg    Config
	caller ContractCaller
	cache  MetaCache
	pricer Pricer
	logger *zap.Logger
}

// NewResolver builds a Resolver. caller and cache may be nil.
func NewResolver(cfg Config, caller ContractCaller, cache MetaCache, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}

	known := make(map[common.Address]model.TokenMeta, len(cfg.Known)+1)
	for addr, meta := range cfg.Known {
		known[addr] = meta
	}
	if _, ok := known[model.NativeToken]; !ok && cfg.NativeSymbol != "" {
		known[model.NativeToken] = model.TokenMeta{
			Address:  model.NativeToken.Hex(),
			Symbol:   cfg.NativeSymbol,
			Decimals: nativeDecimals,
		}
	}
	cfg.Known = known

	return &Resolver{
		cfg:    cfg,
		caller: caller,
		cache:  cache,
		pricer: Pricer{
			StableSymbol: cfg.StableSymbol,
			NativeSymbol: cfg.NativeSymbol,
			NativeUSD:    cfg.NativeUSD,
		},
		logger: logger,
	}
}

// Resolve enriches a payment of amount base units of token.
func (r *Resolver) Resolve(ctx context.Context, token common.Address, amount string, hint Hint) Resolution {
	symbol, decimals := r.resolveMeta(ctx, token, hint)

	res := Resolution{Symbol: symbol, Decimals: decimals}
	if decimals == nil {
		return res
	}

	human, err := FromBaseUnits(amount, *decimals)
	if err != nil {
		r.logger.Debug("amount conversion failed", zap.String("token", token.Hex()), zap.String("amount", amount), zap.Error(err))
		return res
	}
	res.Amount = &human

	if symbol == nil {
		return res
	}
	if usd, ok := r.pricer.USD(*symbol, human); ok {
		res.USD = &usd
	}
	return res
}

func (r *Resolver) resolveMeta(ctx context.Context, token common.Address, hint Hint) (*string, *uint8) {
	symbol := cloneString(hint.Symbol)
	decimals := cloneUint8(hint.Decimals)
	if symbol != nil && decimals != nil {
		return symbol, decimals
	}

	if meta, ok := r.cfg.Known[token]; ok {
		if symbol == nil && meta.Symbol != "" {
			symbol = &meta.Symbol
		}
		if decimals == nil {
			d := meta.Decimals
			decimals = &d
		}
	}

	if token == model.NativeToken {
		if symbol == nil && r.cfg.NativeSymbol != "" {
			s := r.cfg.NativeSymbol
			symbol = &s
		}
		if decimals == nil {
			d := uint8(nativeDecimals)
			decimals = &d
		}
		return symbol, decimals
	}

	if symbol != nil && decimals != nil {
		return symbol, decimals
	}

	if r.cache != nil {
		if meta, ok := r.cache.Get(ctx, token); ok {
			if symbol == nil {
				symbol = &meta.Symbol
			}
			if decimals == nil {
				d := meta.Decimals
				decimals = &d
			}
			return symbol, decimals
		}
	}

	fetchedSymbol, fetchedDecimals := r.fetchMeta(ctx, token, symbol == nil, decimals == nil)
	if symbol == nil {
		symbol = fetchedSymbol
	}
	if decimals == nil {
		decimals = fetchedDecimals
	}

	if r.cache != nil && fetchedSymbol != nil && fetchedDecimals != nil {
		r.cache.Set(ctx, token, model.TokenMeta{
			Address:  strings.ToLower(token.Hex()),
			Symbol:   *fetchedSymbol,
			Decimals: *fetchedDecimals,
		})
	}
	return symbol, decimals
}

// fetchMeta issues the symbol and decimals calls in parallel. A failure in one
// call never suppresses the other.
func (r *Resolver) fetchMeta(ctx context.Context, token common.Address, wantSymbol, wantDecimals bool) (*string, *uint8) {
	if r.caller == nil {
		return nil, nil
	}

	var (
		symbol   *string
		decimals *uint8
		g        errgroup.Group
	)
	if wantSymbol {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
			defer cancel()
			value, err := FetchSymbol(callCtx, r.caller, token)
			if err != nil {
				r.logger.Debug("symbol call failed", zap.String("token", token.Hex()), zap.Error(err))
				return nil
			}
			symbol = &value
			return nil
		})
	}
	if wantDecimals {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
			defer cancel()
			value, err := FetchDecimals(callCtx, r.caller, token)
			if err != nil {
				r.logger.Debug("decimals call failed", zap.String("token", token.Hex()), zap.Error(err))
				return nil
			}
			decimals = &value
			return nil
		})
	}
	_ = g.Wait()

	return symbol, decimals
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func cloneUint8(v *uint8) *uint8 {
	if v == nil {
		return nil
	}
	d := *v
	return &d
}
