package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"echopay/internal/model"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL         string
	ChainID        uint64
	Contract       string
	FinalityBuffer uint64
	PollInterval   time.Duration
	StartBlock     uint64
	BatchSize      uint64
	RPCTimeout     time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration

	TokenMeta    map[common.Address]model.TokenMeta
	NativeSymbol string
	StableSymbol string
	NativeUSD    decimal.Decimal

	PGDSN        string
	RedisAddr    string
	MetaCacheTTL time.Duration
	Checkpoint   string

	HTTPAddr   string
	PublicBase string
	PayWebBase string
	Explorer   string

	SendGridKey string
	FromEmail   string
	NotifyTo    string

	LogLevel string
}

// ErrCheckpointWithoutStore rejects a persistent cursor paired with the
// in-memory receipt store, which would resume past receipts lost on restart.
var ErrCheckpointWithoutStore = errors.New("checkpoint requires pg-dsn")

// ValidateService checks the settings the run command needs.
func (c Config) ValidateService() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if c.Checkpoint != "" && c.PGDSN == "" {
		return ErrCheckpointWithoutStore
	}
	return nil
}

// NotifyEnabled reports whether receipt emails should be sent.
func (c Config) NotifyEnabled() bool {
	return c.SendGridKey != "" && c.NotifyTo != ""
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ECHOPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("finality-buffer", uint64(2))
	v.SetDefault("poll-interval", 2*time.Second)
	v.SetDefault("batch-size", uint64(2000))
	v.SetDefault("rpc-timeout", 10*time.Second)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("native-symbol", "S")
	v.SetDefault("stable-symbol", "USDC")
	v.SetDefault("native-usd", "0.10")
	v.SetDefault("meta-cache-ttl", 24*time.Hour)
	v.SetDefault("http-addr", ":4000")
	v.SetDefault("public-base", "http://localhost:4000")
	v.SetDefault("pay-web-base", "http://localhost:3000")
	v.SetDefault("explorer", "https://testnet.sonicscan.org")
	v.SetDefault("from-email", "receipts@echopay.test")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	tokenMeta, err := ParseTokenMeta(getStringSlice(v, "token-meta"))
	if err != nil {
		return Config{}, err
	}
	nativeUSD, err := decimal.NewFromString(strings.TrimSpace(v.GetString("native-usd")))
	if err != nil {
		return Config{}, fmt.Errorf("invalid native-usd %q: %w", v.GetString("native-usd"), err)
	}
	if nativeUSD.IsNegative() {
		return Config{}, fmt.Errorf("native-usd must not be negative")
	}

	cfg := Config{
		RPCURL:         v.GetString("rpc"),
		ChainID:        v.GetUint64("chain-id"),
		Contract:       strings.TrimSpace(v.GetString("contract")),
		FinalityBuffer: v.GetUint64("finality-buffer"),
		PollInterval:   v.GetDuration("poll-interval"),
		StartBlock:     v.GetUint64("start-block"),
		BatchSize:      v.GetUint64("batch-size"),
		RPCTimeout:     v.GetDuration("rpc-timeout"),
		MaxRetries:     v.GetInt("max-retries"),
		RetryBackoff:   v.GetDuration("retry-backoff"),
		TokenMeta:      tokenMeta,
		NativeSymbol:   v.GetString("native-symbol"),
		StableSymbol:   v.GetString("stable-symbol"),
		NativeUSD:      nativeUSD,
		PGDSN:          v.GetString("pg-dsn"),
		RedisAddr:      v.GetString("redis-addr"),
		MetaCacheTTL:   v.GetDuration("meta-cache-ttl"),
		Checkpoint:     v.GetString("checkpoint"),
		HTTPAddr:       v.GetString("http-addr"),
		PublicBase:     strings.TrimRight(v.GetString("public-base"), "/"),
		PayWebBase:     strings.TrimRight(v.GetString("pay-web-base"), "/"),
		Explorer:       strings.TrimRight(v.GetString("explorer"), "/"),
		SendGridKey:    v.GetString("sendgrid-key"),
		FromEmail:      v.GetString("from-email"),
		NotifyTo:       v.GetString("notify-to"),
		LogLevel:       v.GetString("log-level"),
	}

	return cfg, nil
}

// ParseTokenMeta parses "address=SYMBOL:decimals" entries into a static token table.
func ParseTokenMeta(entries []string) (map[common.Address]model.TokenMeta, error) {
	out := make(map[common.Address]model.TokenMeta, len(entries))
	for _, entry := range entries {
		addrPart, metaPart, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid token-meta entry %q: want address=SYMBOL:decimals", entry)
		}
		addrPart = strings.TrimSpace(addrPart)
		if !common.IsHexAddress(addrPart) {
			return nil, fmt.Errorf("invalid token-meta address %q", addrPart)
		}
		symbol, decimalsPart, ok := strings.Cut(metaPart, ":")
		if !ok {
			return nil, fmt.Errorf("invalid token-meta entry %q: want address=SYMBOL:decimals", entry)
		}
		symbol = strings.TrimSpace(symbol)
		if symbol == "" {
			return nil, fmt.Errorf("invalid token-meta entry %q: empty symbol", entry)
		}
		decimals, err := strconv.ParseUint(strings.TrimSpace(decimalsPart), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid token-meta decimals %q: %w", decimalsPart, err)
		}

		address := common.HexToAddress(addrPart)
		out[address] = model.TokenMeta{
			Address:  strings.ToLower(address.Hex()),
			Symbol:   symbol,
			Decimals: uint8(decimals),
		}
	}
	return out, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
