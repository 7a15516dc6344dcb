// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage persists generated ad texts and banner images.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect selects SQL placeholders and DDL.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Config mirrors the storage.text configuration section.
type Config struct {
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
	Table  string `koanf:"table"`
}

// TextRecord is one stored text.
type TextRecord struct {
	ID        int64
	Text      string
	Metadata  map[string]any
	Model     string
	RequestID string
	CreatedAt time.Time
}

// TextSaver is the write side used by the pipeline.
type TextSaver interface {
	SaveText(ctx context.Context, text string, metadata map[string]any, model, requestID string) (int64, error)
}

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// TextStore stores final ad texts in SQLite or PostgreSQL.
type TextStore struct {
	db      *sql.DB
	dialect Dialect
	table   string
}

// Open connects using cfg and ensures the schema. The sqlite driver name is
// "sqlite" (modernc) and the postgres one is "pgx".
func Open(ctx context.Context, cfg Config) (*TextStore, error) {
	dialect := Dialect(cfg.Driver)
	var driver string
	switch dialect {
	case DialectSQLite, "":
		dialect, driver = DialectSQLite, "sqlite"
		if cfg.DSN == "" {
			cfg.DSN = "tgads.db"
		}
	case DialectPostgres:
		driver = "pgx"
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres dsn is required")
		}
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}
	store, err := NewTextStore(db, dialect, cfg.Table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.Initialize(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewTextStore wraps an open database. table defaults to "text_records".
func NewTextStore(db *sql.DB, dialect Dialect, table string) (*TextStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if table == "" {
		table = "text_records"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &TextStore{db: db, dialect: dialect, table: table}, nil
}

// Initialize creates the table if it doesn't exist.
func (s *TextStore) Initialize(ctx context.Context) error {
	var query string
	if s.dialect == DialectPostgres {
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id SERIAL PRIMARY KEY,
				text_content TEXT NOT NULL,
				version_metadata JSONB DEFAULT '{}',
				model_name VARCHAR(100),
				request_id VARCHAR(50),
				created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
			)`, s.table)
	} else {
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				text_content TEXT NOT NULL,
				version_metadata TEXT DEFAULT '{}',
				model_name TEXT,
				request_id TEXT,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)`, s.table)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// SaveText stores one text and returns its id.
func (s *TextStore) SaveText(ctx context.Context, text string, metadata map[string]any, model, requestID string) (int64, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return 0, fmt.Errorf("marshal metadata: %w", err)
	}

	if s.dialect == DialectPostgres {
		var id int64
		query := fmt.Sprintf(`INSERT INTO %s (text_content, version_metadata, model_name, request_id)
			VALUES ($1, $2, $3, $4) RETURNING id`, s.table)
		if err := s.db.QueryRowContext(ctx, query, text, string(meta), model, requestID).Scan(&id); err != nil {
			return 0, fmt.Errorf("insert text: %w", err)
		}
		return id, nil
	}

	query := fmt.Sprintf(`INSERT INTO %s (text_content, version_metadata, model_name, request_id)
		VALUES (?, ?, ?, ?)`, s.table)
	res, err := s.db.ExecContext(ctx, query, text, string(meta), model, requestID)
	if err != nil {
		return 0, fmt.Errorf("insert text: %w", err)
	}
	return res.LastInsertId()
}

// GetText loads a record by id. A missing id returns sql.ErrNoRows.
func (s *TextStore) GetText(ctx context.Context, id int64) (*TextRecord, error) {
	placeholder := "?"
	if s.dialect == DialectPostgres {
		placeholder = "$1"
	}
	query := fmt.Sprintf(`SELECT id, text_content, version_metadata, model_name, request_id, created_at
		FROM %s WHERE id = %s`, s.table, placeholder)

	var (
		rec     TextRecord
		meta    sql.NullString
		model   sql.NullString
		reqID   sql.NullString
		created any
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&rec.ID, &rec.Text, &meta, &model, &reqID, &created)
	if err != nil {
		return nil, err
	}
	rec.Model = model.String
	rec.RequestID = reqID.String
	rec.CreatedAt = parseTimestamp(created)
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &rec, nil
}

// Ping checks the connection.
func (s *TextStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database.
func (s *TextStore) Close() error { return s.db.Close() }

var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"}

// parseTimestamp accepts what either driver hands back for created_at.
func parseTimestamp(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case []byte:
		return parseTimestamp(string(t))
	case string:
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}
