// Package repository persists usage records to Postgres. The journal is
// an audit and billing trail; quota decisions never read from it at
// request time, only to seed month-to-date cost at startup.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/lmoretti/lingo-gateway/internal/domain"
)

const usageSchema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id           BIGSERIAL PRIMARY KEY,
	request_id   TEXT NOT NULL,
	provider     TEXT NOT NULL,
	source_lang  TEXT NOT NULL,
	target_lang  TEXT NOT NULL,
	chars        BIGINT NOT NULL,
	tokens       BIGINT NOT NULL,
	cost_usd     DOUBLE PRECISION NOT NULL,
	cached       BOOLEAN NOT NULL DEFAULT FALSE,
	latency_ms   BIGINT NOT NULL,
	status       TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_provider_created
	ON usage_records (provider, created_at);
`

type PostgresUsageRepository struct {
	db *sql.DB
}

func NewPostgres(databaseURL string) (*PostgresUsageRepository, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres connection failed: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &PostgresUsageRepository{db: db}, nil
}

func NewPostgresWithDB(db *sql.DB) *PostgresUsageRepository {
	return &PostgresUsageRepository{db: db}
}

// EnsureSchema creates the usage table when it does not exist yet.
func (r *PostgresUsageRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, usageSchema); err != nil {
		return fmt.Errorf("ensure usage schema: %w", err)
	}
	return nil
}

// Record inserts one terminal usage row. Failed rows carry zero cost and
// exist for diagnostics only.
func (r *PostgresUsageRepository) Record(ctx context.Context, rec domain.UsageRecord) error {
	query := `
		INSERT INTO usage_records (request_id, provider, source_lang, target_lang, chars, tokens, cost_usd, cached, latency_ms, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.RequestID,
		rec.Provider,
		rec.SourceLang,
		rec.TargetLang,
		rec.Chars,
		rec.Tokens,
		rec.CostUSD,
		rec.Cached,
		rec.LatencyMs,
		rec.Status,
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}

	return nil
}

// GetProviderUsage returns a provider's usage rows since the given time,
// newest first.
func (r *PostgresUsageRepository) GetProviderUsage(ctx context.Context, providerID string, since time.Time) ([]domain.UsageRecord, error) {
	query := `
		SELECT request_id, provider, source_lang, target_lang, chars, tokens, cost_usd, cached, latency_ms, status, created_at
		FROM usage_records
		WHERE provider = $1 AND created_at >= $2
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, providerID, since)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	var records []domain.UsageRecord
	for rows.Next() {
		var rec domain.UsageRecord
		err := rows.Scan(
			&rec.RequestID,
			&rec.Provider,
			&rec.SourceLang,
			&rec.TargetLang,
			&rec.Chars,
			&rec.Tokens,
			&rec.CostUSD,
			&rec.Cached,
			&rec.LatencyMs,
			&rec.Status,
			&rec.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// ProviderMonthCost sums a provider's successful spend since the start of
// the current calendar month (UTC). Used to seed the quota tracker's
// month bucket across restarts.
func (r *PostgresUsageRepository) ProviderMonthCost(ctx context.Context, providerID string) (float64, error) {
	now := time.Now().UTC()
	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	query := `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM usage_records
		WHERE provider = $1 AND created_at >= $2 AND status <> 'failed'
	`

	var total float64
	if err := r.db.QueryRowContext(ctx, query, providerID, startOfMonth).Scan(&total); err != nil {
		return 0, fmt.Errorf("query month cost: %w", err)
	}

	return total, nil
}

func (r *PostgresUsageRepository) Close() error {
	return r.db.Close()
}
