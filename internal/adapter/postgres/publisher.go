// Package postgres mirrors store changes into a Postgres table keyed by
// event ID, for consumers that query events rather than read the CSV.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cprunner/park-events-etl/internal/domain"
)

// Options configures the connection.
type Options struct {
	DSN      string
	MaxConns int
	Table    string
}

// Publisher upserts changes. It implements pipeline.Publisher.
type Publisher struct {
	pool   *pgxpool.Pool
	table  string
	logger *slog.Logger

	mu          sync.Mutex
	schemaReady bool
}

// Open builds the pool. Connections are made on first use, so an
// unreachable database only fails Publish, never startup.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Publisher, error) {
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse PG_DSN: %w", err)
	}
	cfg.MaxConns = poolSize(opts.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	return &Publisher{pool: pool, table: tableName(opts.Table), logger: logger}, nil
}

func poolSize(n int) int32 {
	switch {
	case n <= 0:
		return 2
	case n > math.MaxInt32:
		return math.MaxInt32
	}
	return int32(n)
}

func tableName(name string) string {
	if name == "" {
		name = "park_events"
	}
	return pgx.Identifier{name}.Sanitize()
}

// ensureSchema creates the table once per process. A failed attempt is
// retried on the next Publish.
func (p *Publisher) ensureSchema(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.schemaReady {
		return nil
	}
	_, err := p.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+p.table+` (
		event_id    text PRIMARY KEY,
		name        text NOT NULL,
		event_date  text NOT NULL,
		start_time  text NOT NULL DEFAULT '',
		end_time    text NOT NULL DEFAULT '',
		location    text NOT NULL DEFAULT '',
		description text NOT NULL DEFAULT '',
		url         text NOT NULL DEFAULT '',
		updated_at  timestamptz NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create table %s: %w", p.table, err)
	}
	p.schemaReady = true
	return nil
}

// Publish upserts every change in one batch.
func (p *Publisher) Publish(ctx context.Context, changes []domain.Change) error {
	if len(changes) == 0 {
		return nil
	}
	if err := p.ensureSchema(ctx); err != nil {
		return err
	}
	b := buildBatch(p.table, changes, domain.Now().UTC())

	br := p.pool.SendBatch(ctx, b)
	affected := 0
	for range changes {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return fmt.Errorf("upsert into %s: %w", p.table, err)
		}
		affected += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("upsert into %s: %w", p.table, err)
	}
	p.logger.Info("changes upserted", "table", p.table, "rows", affected)
	return nil
}

func buildBatch(table string, changes []domain.Change, now time.Time) *pgx.Batch {
	b := &pgx.Batch{}
	for _, c := range changes {
		e := c.Event
		b.Queue(`INSERT INTO `+table+`
			(event_id, name, event_date, start_time, end_time, location, description, url, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (event_id) DO UPDATE SET
				name = EXCLUDED.name,
				start_time = EXCLUDED.start_time,
				end_time = EXCLUDED.end_time,
				location = EXCLUDED.location,
				description = EXCLUDED.description,
				url = EXCLUDED.url,
				updated_at = EXCLUDED.updated_at`,
			domain.EventID(e), e.Name, e.Date, e.StartTime, e.EndTime, e.Location, e.Description, e.URL, now,
		)
	}
	return b
}

func (p *Publisher) Close() {
	p.pool.Close()
}
