package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
)

const defaultListLimit = 50

// Document is one indexed upload.
type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`
	ID            int64     `bun:"id,pk,autoincrement"`
	DocumentID    string    `bun:"document_id,notnull"`
	Source        string    `bun:"source,notnull"`
	Pages         int       `bun:"pages,notnull"`
	Chunks        int       `bun:"chunks,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// Registry records uploads in Postgres so duplicates and history are visible.
type Registry struct {
	db *bun.DB
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func ConnectDB(dsn string) *sql.DB {
	return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
}

// Open connects to the database in cfg and creates the documents table if needed.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Registry, error) {
	r := NewRegistry(NewDB(ConnectDB(cfg.DSN), cfg.Debug))
	if err := r.db.PingContext(ctx); err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to connect to registry database: %w", err)
	}
	if err := r.Init(ctx); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func NewRegistry(db *bun.DB) *Registry {
	return &Registry{db: db}
}

func (r *Registry) Init(ctx context.Context) error {
	if _, err := r.createTableQuery().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	return nil
}

func (r *Registry) Record(ctx context.Context, rec models.DocumentRecord) error {
	if _, err := r.insertQuery(rec).Exec(ctx); err != nil {
		return fmt.Errorf("failed to record document %s: %w", rec.DocumentID, err)
	}
	return nil
}

// List returns the most recent uploads first.
func (r *Registry) List(ctx context.Context, limit int) ([]models.DocumentRecord, error) {
	var docs []Document
	if err := r.listQuery(&docs, limit).Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	out := make([]models.DocumentRecord, len(docs))
	for i, d := range docs {
		out[i] = models.DocumentRecord{
			DocumentID: d.DocumentID,
			Source:     d.Source,
			Pages:      d.Pages,
			Chunks:     d.Chunks,
			CreatedAt:  d.CreatedAt,
		}
	}
	return out, nil
}

// CountBySource returns how many uploads share source.
func (r *Registry) CountBySource(ctx context.Context, source string) (int, error) {
	n, err := r.countQuery(source).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents for %s: %w", source, err)
	}
	return n, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}

func (r *Registry) createTableQuery() *bun.CreateTableQuery {
	return r.db.NewCreateTable().Model((*Document)(nil)).IfNotExists()
}

func (r *Registry) insertQuery(rec models.DocumentRecord) *bun.InsertQuery {
	doc := &Document{
		DocumentID: rec.DocumentID,
		Source:     rec.Source,
		Pages:      rec.Pages,
		Chunks:     rec.Chunks,
		CreatedAt:  rec.CreatedAt,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	return r.db.NewInsert().Model(doc)
}

func (r *Registry) listQuery(dest *[]Document, limit int) *bun.SelectQuery {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return r.db.NewSelect().
		Model(dest).
		OrderExpr("d.created_at DESC, d.id DESC").
		Limit(limit)
}

func (r *Registry) countQuery(source string) *bun.SelectQuery {
	return r.db.NewSelect().
		Model((*Document)(nil)).
		Where("d.source = ?", source)
}
