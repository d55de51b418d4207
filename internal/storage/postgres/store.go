package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"echopay/internal/model"
	"echopay/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

const receiptColumns = `
	chain_id, receipt_id, payer, merchant, token, amount::text, code, meta_uri, tx_hash,
	block_number, log_index, token_symbol, token_decimals, usd_at_tx::text, created_at`

// Store provides Postgres persistence for receipts and the poller cursor.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the receipts and indexer_state tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// UpsertReceipt inserts r unless a receipt with the same code exists.
func (s *Store) UpsertReceipt(ctx context.Context, r model.Receipt) (model.Receipt, bool, error) {
	var decimals *int16
	if r.TokenDecimals != nil {
		d := int16(*r.TokenDecimals)
		decimals = &d
	}
	var usd *string
	if r.UsdAtTx != nil {
		v := r.UsdAtTx.StringFixed(2)
		usd = &v
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO receipts (
			chain_id, receipt_id, payer, merchant, token, amount, code, meta_uri, tx_hash,
			block_number, log_index, token_symbol, token_decimals, usd_at_tx, created_at
		) VALUES ($1,$2,$3,$4,$5,$6::numeric,$7,$8,$9,$10,$11,$12,$13,$14::numeric,$15)
		ON CONFLICT (code) DO NOTHING
		RETURNING`+receiptColumns,
		int64(r.ChainID),
		r.ReceiptID,
		r.Payer,
		r.Merchant,
		r.Token,
		r.Amount,
		r.Code,
		r.MetaURI,
		r.TxHash,
		int64(r.BlockNumber),
		int64(r.LogIndex),
		r.TokenSymbol,
		decimals,
		usd,
		createdAt,
	)
	stored, err := scanReceipt(row)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Receipt{}, false, fmt.Errorf("insert receipt %s: %w", r.Code, err)
	}

	existing, err := s.ReceiptByCode(ctx, r.Code)
	if err != nil {
		return model.Receipt{}, false, err
	}
	return existing, false, nil
}

func (s *Store) ReceiptByCode(ctx context.Context, code string) (model.Receipt, error) {
	row := s.pool.QueryRow(ctx, `SELECT`+receiptColumns+` FROM receipts WHERE code=$1`, code)
	r, err := scanReceipt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Receipt{}, storage.ErrNotFound
		}
		return model.Receipt{}, fmt.Errorf("select receipt %s: %w", code, err)
	}
	return r, nil
}

func (s *Store) ListByMerchant(ctx context.Context, merchant string, offset, limit int) ([]model.Receipt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+receiptColumns+`
		FROM receipts
		WHERE merchant=$1
		ORDER BY created_at DESC, block_number DESC, log_index DESC
		OFFSET $2 LIMIT $3
	`, strings.ToLower(merchant), offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	return collectReceipts(rows)
}

func (s *Store) CountByMerchant(ctx context.Context, merchant string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM receipts WHERE merchant=$1`, strings.ToLower(merchant)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count receipts: %w", err)
	}
	return count, nil
}

func (s *Store) SumUSDByMerchant(ctx context.Context, merchant string) (decimal.Decimal, error) {
	var total string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(usd_at_tx), 0)::text FROM receipts WHERE merchant=$1`,
		strings.ToLower(merchant),
	).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum receipts: %w", err)
	}
	return decimal.NewFromString(total)
}

func (s *Store) ReceiptsByMerchantSince(ctx context.Context, merchant string, since time.Time) ([]model.Receipt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+receiptColumns+`
		FROM receipts
		WHERE merchant=$1 AND created_at >= $2
		ORDER BY created_at ASC
	`, strings.ToLower(merchant), since)
	if err != nil {
		return nil, fmt.Errorf("select receipts since: %w", err)
	}
	return collectReceipts(rows)
}

// LoadCursor returns last_processed_block for a name.
func (s *Store) LoadCursor(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_block FROM indexer_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveCursor upserts last_processed_block for a name.
func (s *Store) SaveCursor(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = now()
	`, name, int64(block))
	return err
}

func collectReceipts(rows pgx.Rows) ([]model.Receipt, error) {
	defer rows.Close()

	out := make([]model.Receipt, 0)
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanReceipt(row pgx.Row) (model.Receipt, error) {
	var (
		r           model.Receipt
		chainID     int64
		blockNumber int64
		logIndex    int64
		decimals    *int16
		usd         *string
	)
	err := row.Scan(
		&chainID,
		&r.ReceiptID,
		&r.Payer,
		&r.Merchant,
		&r.Token,
		&r.Amount,
		&r.Code,
		&r.MetaURI,
		&r.TxHash,
		&blockNumber,
		&logIndex,
		&r.TokenSymbol,
		&decimals,
		&usd,
		&r.CreatedAt,
	)
	if err != nil {
		return model.Receipt{}, err
	}

	r.ChainID = uint64(chainID)
	r.BlockNumber = uint64(blockNumber)
	r.LogIndex = uint64(logIndex)
	r.CreatedAt = r.CreatedAt.UTC()
	if decimals != nil {
		d := uint8(*decimals)
		r.TokenDecimals = &d
	}
	if usd != nil {
		v, err := decimal.NewFromString(*usd)
		if err != nil {
			return model.Receipt{}, fmt.Errorf("parse usd_at_tx %q: %w", *usd, err)
		}
		r.UsdAtTx = &v
	}
	return r, nil
}

var (
	_ storage.ReceiptStore = (*Store)(nil)
	_ storage.CursorStore  = (*Store)(nil)
)
