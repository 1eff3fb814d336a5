// Package warehouse reads token, quote and fiat records from PostgreSQL.
// It is the source of truth behind every cached entity.
package warehouse

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/DroomDroom-Org/DroomdroomConverter/internal/asset"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/money"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/observability"
)

//go:embed schema.sql
var schema string

// DefaultQueryTimeout bounds a single query
const DefaultQueryTimeout = 3 * time.Second

// Config holds connection settings
type Config struct {
	DSN          string
	MaxConns     int32
	QueryTimeout time.Duration
}

// Store is the warehouse repository
type Store struct {
	pool         *pgxpool.Pool
	logger       *observability.Logger
	queryTimeout time.Duration
}

// Open connects a pool, registers decimal codecs on every connection and pings.
func Open(ctx context.Context, cfg Config, logger *observability.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse warehouse DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.AfterConnect = func(_ context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create warehouse pool: %w", err)
	}

	s := New(pool, logger, cfg.QueryTimeout)
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping warehouse: %w", err)
	}
	return s, nil
}

// New wraps an existing pool. The pool must have decimal codecs registered.
func New(pool *pgxpool.Pool, logger *observability.Logger, queryTimeout time.Duration) *Store {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if queryTimeout <= 0 {
		queryTimeout = DefaultQueryTimeout
	}
	return &Store{
		pool:         pool,
		logger:       logger.Component("warehouse"),
		queryTimeout: queryTimeout,
	}
}

// Close releases the pool
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks connectivity
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Migrate creates the schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply warehouse schema: %w", err)
	}
	s.logger.Info("warehouse schema applied")
	return nil
}

const tokenColumns = `t.id, t.ticker, t.name, t.slug, t.rank, t.circulating_supply, t.max_supply, t.updated_at`

const quoteColumns = `t.id, t.ticker, t.name, q.price_usd, q.percent_change_1h, q.percent_change_24h,
	q.percent_change_7d, q.market_cap, q.volume_24h, q.last_updated`

// rankOrder puts unranked (rank 0) tokens last
const rankOrder = `ORDER BY (t.rank = 0), t.rank, t.ticker`

// FindToken returns the best-ranked token with ticker (case-insensitive)
func (s *Store) FindToken(ctx context.Context, ticker string) (asset.Token, error) {
	ticker = asset.NormalizeTicker(ticker)
	if ticker == "" {
		return asset.Token{}, fmt.Errorf("%w: ticker is required", asset.ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	query := `SELECT ` + tokenColumns + ` FROM tokens t WHERE upper(t.ticker) = $1 ` + rankOrder + ` LIMIT 1`
	tok, err := scanToken(s.pool.QueryRow(ctx, query, ticker))
	if err != nil {
		return asset.Token{}, s.wrap(err, "find token", ticker)
	}
	return tok, nil
}

// FindTokenByID returns the token with id
func (s *Store) FindTokenByID(ctx context.Context, id string) (asset.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	query := `SELECT ` + tokenColumns + ` FROM tokens t WHERE t.id = $1`
	tok, err := scanToken(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return asset.Token{}, s.wrap(err, "find token by id", id)
	}
	return tok, nil
}

// QuoteByID returns the stored quote of a token
func (s *Store) QuoteByID(ctx context.Context, id string) (asset.Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	query := `SELECT ` + quoteColumns + `
		FROM tokens t JOIN token_quotes q ON q.token_id = t.id
		WHERE t.id = $1`
	q, err := scanQuote(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return asset.Quote{}, s.wrap(err, "quote by id", id)
	}
	return q, nil
}

// QuotesByIDs returns stored quotes keyed by token id. Unknown ids are absent.
func (s *Store) QuotesByIDs(ctx context.Context, ids []string) (map[string]asset.Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	query := `SELECT ` + quoteColumns + `
		FROM tokens t JOIN token_quotes q ON q.token_id = t.id
		WHERE t.id = ANY($1)`
	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("quotes by ids: %w", err)
	}
	defer rows.Close()

	out := make(map[string]asset.Quote, len(ids))
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quote: %w", err)
		}
		out[q.AssetID] = q
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("quotes by ids: %w", err)
	}
	return out, nil
}

// ListTokens returns one page of quoted tokens by rank and the total count
func (s *Store) ListTokens(ctx context.Context, page, pageSize int) ([]asset.Quote, int, error) {
	if page < 1 || pageSize < 1 {
		return nil, 0, fmt.Errorf("%w: page and page size must be positive", asset.ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var total int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM tokens t JOIN token_quotes q ON q.token_id = t.id`).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count tokens: %w", err)
	}

	query := `SELECT ` + quoteColumns + `
		FROM tokens t JOIN token_quotes q ON q.token_id = t.id
		` + rankOrder + `
		LIMIT $1 OFFSET $2`
	rows, err := s.pool.Query(ctx, query, pageSize, offset(page, pageSize))
	if err != nil {
		return nil, 0, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	items := make([]asset.Quote, 0, pageSize)
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan quote: %w", err)
		}
		items = append(items, q)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list tokens: %w", err)
	}
	return items, total, nil
}

// SearchTokens matches term against name and ticker, case-insensitive, best rank first
func (s *Store) SearchTokens(ctx context.Context, term string, limit int) ([]asset.Token, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, fmt.Errorf("%w: search term is required", asset.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 20
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	query := `SELECT ` + tokenColumns + ` FROM tokens t
		WHERE t.name ILIKE $1 ESCAPE '\' OR t.ticker ILIKE $1 ESCAPE '\'
		` + rankOrder + `
		LIMIT $2`
	rows, err := s.pool.Query(ctx, query, "%"+escapeLike(term)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search tokens: %w", err)
	}
	defer rows.Close()

	var out []asset.Token
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		out = append(out, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search tokens: %w", err)
	}
	return out, nil
}

// FindFiat returns the fiat currency with code (case-insensitive)
func (s *Store) FindFiat(ctx context.Context, code string) (asset.Fiat, error) {
	code = asset.NormalizeTicker(code)

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var f asset.Fiat
	err := s.pool.QueryRow(ctx,
		`SELECT code, name, symbol, usd_rate FROM fiat_currencies WHERE upper(code) = $1`, code,
	).Scan(&f.Code, &f.Name, &f.Symbol, &f.USDRate)
	if err != nil {
		return asset.Fiat{}, s.wrap(err, "find fiat", code)
	}
	return f, nil
}

// ListTickers returns every token ticker by rank
func (s *Store) ListTickers(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT t.ticker FROM tokens t `+rankOrder)
	if err != nil {
		return nil, fmt.Errorf("list tickers: %w", err)
	}
	tickers, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list tickers: %w", err)
	}
	return tickers, nil
}

// UpsertToken inserts or replaces a token
func (s *Store) UpsertToken(ctx context.Context, t asset.Token) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	updatedAt := t.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tokens (id, ticker, name, slug, rank, circulating_supply, max_supply, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			ticker = EXCLUDED.ticker, name = EXCLUDED.name, slug = EXCLUDED.slug, rank = EXCLUDED.rank,
			circulating_supply = EXCLUDED.circulating_supply, max_supply = EXCLUDED.max_supply,
			updated_at = EXCLUDED.updated_at`,
		t.ID, asset.NormalizeTicker(t.Ticker), t.Name, t.Slug, t.Rank,
		t.CirculatingSupply.Null(), t.MaxSupply.Null(), updatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert token %s: %w", t.ID, err)
	}
	return nil
}

// UpsertQuote inserts or replaces the stored quote of a token
func (s *Store) UpsertQuote(ctx context.Context, q asset.Quote) error {
	if err := q.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO token_quotes (token_id, price_usd, percent_change_1h, percent_change_24h,
			percent_change_7d, market_cap, volume_24h, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (token_id) DO UPDATE SET
			price_usd = EXCLUDED.price_usd, percent_change_1h = EXCLUDED.percent_change_1h,
			percent_change_24h = EXCLUDED.percent_change_24h, percent_change_7d = EXCLUDED.percent_change_7d,
			market_cap = EXCLUDED.market_cap, volume_24h = EXCLUDED.volume_24h,
			last_updated = EXCLUDED.last_updated`,
		q.AssetID, q.PriceUSD, q.PercentChange1h.Null(), q.PercentChange24h.Null(),
		q.PercentChange7d.Null(), q.MarketCap.Null(), q.Volume24h.Null(), q.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("upsert quote %s: %w", q.AssetID, err)
	}
	return nil
}

// UpsertFiat inserts or replaces a fiat currency
func (s *Store) UpsertFiat(ctx context.Context, f asset.Fiat) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO fiat_currencies (code, name, symbol, usd_rate) VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, symbol = EXCLUDED.symbol, usd_rate = EXCLUDED.usd_rate`,
		asset.NormalizeTicker(f.Code), f.Name, f.Symbol, f.USDRate,
	)
	if err != nil {
		return fmt.Errorf("upsert fiat %s: %w", f.Code, err)
	}
	return nil
}

func (s *Store) wrap(err error, op, key string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", asset.ErrNotFound, op, key)
	}
	s.logger.Error("warehouse query failed", "op", op, "key", key, "error", err)
	return fmt.Errorf("%s %s: %w", op, key, err)
}

func scanToken(row pgx.Row) (asset.Token, error) {
	var (
		t                   asset.Token
		circulating, supply decimal.NullDecimal
	)
	err := row.Scan(&t.ID, &t.Ticker, &t.Name, &t.Slug, &t.Rank, &circulating, &supply, &t.UpdatedAt)
	if err != nil {
		return asset.Token{}, err
	}
	t.CirculatingSupply = money.FromNull(circulating)
	t.MaxSupply = money.FromNull(supply)
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func scanQuote(row pgx.Row) (asset.Quote, error) {
	var (
		q                    asset.Quote
		ch1h, ch24h, ch7d    decimal.NullDecimal
		marketCap, volume24h decimal.NullDecimal
	)
	err := row.Scan(&q.AssetID, &q.Ticker, &q.Name, &q.PriceUSD, &ch1h, &ch24h, &ch7d, &marketCap, &volume24h, &q.LastUpdated)
	if err != nil {
		return asset.Quote{}, err
	}
	q.PercentChange1h = money.FromNull(ch1h)
	q.PercentChange24h = money.FromNull(ch24h)
	q.PercentChange7d = money.FromNull(ch7d)
	q.MarketCap = money.FromNull(marketCap)
	q.Volume24h = money.FromNull(volume24h)
	q.LastUpdated = q.LastUpdated.UTC()
	q.Source = asset.SourceWarehouse
	return q, nil
}

// escapeLike escapes LIKE wildcards so the term matches literally
func escapeLike(term string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
}

func offset(page, pageSize int) int {
	return (page - 1) * pageSize
}
