package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"ingestion-engine/config"

	_ "github.com/lib/pq"
)

// ErrPublishFailed is returned when a record could neither be
// published nor written to the table sink.
var ErrPublishFailed = errors.New("publish failed")

// TableSink is the fallback persistence path engaged when the
// downstream publisher cannot accept a record. An idempotent upsert
// keyed on the article's opaque id makes the fallback path safe to
// retry.
type TableSink struct {
	db      *sql.DB
	table   string
	metrics *PrometheusMetrics
}

// NewTableSink constructs a table sink against an already-open
// connection.
func NewTableSink(db *sql.DB, cfg config.TableSinkConfig, metrics *PrometheusMetrics) *TableSink {
	return &TableSink{db: db, table: cfg.Table, metrics: metrics}
}

// EnsureSchema creates the sink table if it does not already exist.
func (s *TableSink) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			title TEXT,
			author TEXT,
			publication_date TEXT,
			source TEXT,
			url TEXT NOT NULL,
			summary TEXT,
			content TEXT,
			tags TEXT,
			categories TEXT,
			images TEXT,
			inserted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.table)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure table sink schema: %w", err)
	}
	log.Printf("table sink: schema ready (%s)", s.table)
	return nil
}

// Write upserts one record keyed on id.
func (s *TableSink) Write(ctx context.Context, record DownstreamRecord) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (
			id, title, author, publication_date, source, url,
			summary, content, tags, categories, images, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			author = EXCLUDED.author,
			publication_date = EXCLUDED.publication_date,
			source = EXCLUDED.source,
			url = EXCLUDED.url,
			summary = EXCLUDED.summary,
			content = EXCLUDED.content,
			tags = EXCLUDED.tags,
			categories = EXCLUDED.categories,
			images = EXCLUDED.images,
			updated_at = NOW()`, s.table)

	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.Title,
		record.Author,
		record.PublicationDate,
		record.Source,
		record.URL,
		record.Summary,
		record.Content,
		record.Tags,
		record.Categories,
		record.Images,
	)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordTableSinkWrite("error")
		}
		return fmt.Errorf("%w: %s: %v", ErrPublishFailed, record.ID, err)
	}
	if s.metrics != nil {
		s.metrics.RecordTableSinkWrite("success")
	}
	return nil
}
