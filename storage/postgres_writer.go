package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"cruise-scraper/models"
)

const upsertColumns = 11

// PostgresWriter is the document-store import sink. Listings are upserted by
// id and every run is recorded in scrape_runs, all in one transaction.
type PostgresWriter struct {
	db *sql.DB
}

// NewPostgresWriter opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresWriter.
func NewPostgresWriter(ctx context.Context, dsn string) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	pw := &PostgresWriter{db: db}
	if err := pw.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return pw, nil
}

func (pw *PostgresWriter) migrate(ctx context.Context) error {
	_, err := pw.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS cruise_listings (
			id                TEXT PRIMARY KEY,
			source_line       TEXT    NOT NULL,
			ship_or_item_name TEXT    NOT NULL,
			itinerary         TEXT[]  NOT NULL DEFAULT '{}',
			departure_point   TEXT    NOT NULL,
			sail_date         TEXT    NOT NULL,
			duration_days     INTEGER,
			price             TEXT    NOT NULL,
			link              TEXT    NOT NULL,
			source            TEXT    NOT NULL,
			run_id            TEXT    NOT NULL,
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_cruise_listings_line   ON cruise_listings(source_line);
		CREATE INDEX IF NOT EXISTS idx_cruise_listings_source ON cruise_listings(source);

		CREATE TABLE IF NOT EXISTS scrape_runs (
			run_id     TEXT PRIMARY KEY,
			run_date   TEXT        NOT NULL,
			total      INTEGER     NOT NULL,
			summary    JSONB       NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

func (pw *PostgresWriter) Name() string { return "postgres" }

// WriteBatch upserts every listing and records the run.
func (pw *PostgresWriter) WriteBatch(ctx context.Context, b Batch) error {
	summary, err := json.Marshal(b.Summary)
	if err != nil {
		return fmt.Errorf("postgres: encode summary: %w", err)
	}

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const batchSize = 50
	for i := 0; i < len(b.Listings); i += batchSize {
		end := min(i+batchSize, len(b.Listings))
		query, args := buildUpsert(b.Listings[i:end], b.RunID)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("postgres: upsert listings: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO scrape_runs (run_id, run_date, total, summary)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id) DO UPDATE SET total = EXCLUDED.total, summary = EXCLUDED.summary
	`, b.RunID, b.RunDate, len(b.Listings), string(summary)); err != nil {
		return fmt.Errorf("postgres: record run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func buildUpsert(batch []models.Listing, runID string) (string, []any) {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]any, 0, len(batch)*upsertColumns)

	for idx, l := range batch {
		base := idx * upsertColumns
		ph := make([]string, upsertColumns)
		for c := range ph {
			ph[c] = fmt.Sprintf("$%d", base+c+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(ph, ",")+")")

		var duration sql.NullInt64
		if l.DurationDays != nil {
			duration = sql.NullInt64{Int64: int64(*l.DurationDays), Valid: true}
		}
		valueArgs = append(valueArgs,
			l.ID, l.SourceLine, l.ShipOrItemName, pq.Array(l.Itinerary), l.DeparturePoint,
			l.Date, duration, l.Price, l.Link, l.Source, runID)
	}

	query := fmt.Sprintf(`
		INSERT INTO cruise_listings (id, source_line, ship_or_item_name, itinerary, departure_point,
			sail_date, duration_days, price, link, source, run_id)
		VALUES %s
		ON CONFLICT (id) DO UPDATE SET
			source_line = EXCLUDED.source_line,
			ship_or_item_name = EXCLUDED.ship_or_item_name,
			itinerary = EXCLUDED.itinerary,
			departure_point = EXCLUDED.departure_point,
			sail_date = EXCLUDED.sail_date,
			duration_days = EXCLUDED.duration_days,
			price = EXCLUDED.price,
			link = EXCLUDED.link,
			source = EXCLUDED.source,
			run_id = EXCLUDED.run_id,
			updated_at = NOW()
	`, strings.Join(valueStrings, ","))
	return query, valueArgs
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}

// FetchAll reads back every stored listing, ordered by id.
func (pw *PostgresWriter) FetchAll(ctx context.Context) ([]models.Listing, error) {
	rows, err := pw.db.QueryContext(ctx, `
		SELECT id, source_line, ship_or_item_name, itinerary, departure_point,
			sail_date, duration_days, price, link, source
		FROM cruise_listings
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch all: %w", err)
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		var (
			l        models.Listing
			duration sql.NullInt64
		)
		if err := rows.Scan(
			&l.ID, &l.SourceLine, &l.ShipOrItemName, pq.Array(&l.Itinerary), &l.DeparturePoint,
			&l.Date, &duration, &l.Price, &l.Link, &l.Source,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		if duration.Valid {
			d := int(duration.Int64)
			l.DurationDays = &d
		}
		if l.Itinerary == nil {
			l.Itinerary = []string{}
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}
