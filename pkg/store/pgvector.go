package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/xhad/repochat/internal/models"
)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
}

// VectorStore keeps every namespace in one PostgreSQL table and ranks rows
// by pgvector cosine distance.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
	table  string
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "repo_chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 1536 // Default for OpenAI embeddings
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
		table:  pgx.Identifier{config.TableName}.Sanitize(),
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			namespace TEXT NOT NULL,
			id TEXT NOT NULL,
			content TEXT,
			filename TEXT,
			filepath TEXT,
			chunk_index INTEGER,
			embedding vector(%d),
			PRIMARY KEY (namespace, id)
		)`, vs.table, vs.config.VectorDim)

	if _, err := vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	// An existing table keeps the dimension it was created with.
	var have int
	err := vs.pool.QueryRow(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = $1::regclass AND attname = 'embedding' AND NOT attisdropped`,
		vs.table).Scan(&have)
	if err != nil {
		return fmt.Errorf("failed to read embedding dimension: %w", err)
	}
	if have != vs.config.VectorDim {
		return fmt.Errorf("%w: table %s stores %d dimensions, embedder produces %d",
			ErrDimensionMismatch, vs.config.TableName, have, vs.config.VectorDim)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s
		ON %s
		USING hnsw (embedding vector_cosine_ops)`,
		pgx.Identifier{vs.config.TableName + "_embedding_idx"}.Sanitize(), vs.table)

	if _, err := vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

func (vs *VectorStore) Dimension() int {
	return vs.config.VectorDim
}

// Reset removes every record of namespace.
func (vs *VectorStore) Reset(ctx context.Context, namespace string) error {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE namespace = $1`, vs.table)
	if _, err := vs.pool.Exec(ctx, stmt, namespace); err != nil {
		return fmt.Errorf("failed to reset namespace %s: %w", namespace, err)
	}
	return nil
}

// Upsert writes records in a single transaction, so a failed call leaves no
// partial batch behind.
func (vs *VectorStore) Upsert(ctx context.Context, namespace string, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := checkDimensions(vs.config.VectorDim, records); err != nil {
		return err
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (namespace, id, content, filename, filepath, chunk_index, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (namespace, id) DO UPDATE SET
			content = EXCLUDED.content,
			filename = EXCLUDED.filename,
			filepath = EXCLUDED.filepath,
			chunk_index = EXCLUDED.chunk_index,
			embedding = EXCLUDED.embedding`,
		vs.table)

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(stmt,
			namespace,
			r.ID,
			sanitizeUTF8(r.Text),
			sanitizeUTF8(r.Metadata.FileName),
			sanitizeUTF8(r.Metadata.FilePath),
			r.Metadata.ChunkIndex,
			pgvector.NewVector(r.Vector),
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert records: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Query returns the k nearest records in namespace. Score is cosine
// similarity, 1 minus the pgvector cosine distance.
func (vs *VectorStore) Query(ctx context.Context, namespace string, vector []float32, k int) ([]models.Match, error) {
	if len(vector) != vs.config.VectorDim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimensionMismatch, len(vector), vs.config.VectorDim)
	}

	query := fmt.Sprintf(`
		SELECT id, content, filename, filepath, chunk_index, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE namespace = $2
		ORDER BY embedding <=> $1
		LIMIT $3`,
		vs.table)

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(vector), namespace, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var matches []models.Match
	for rows.Next() {
		var m models.Match
		err := rows.Scan(
			&m.ID,
			&m.Text,
			&m.Metadata.FileName,
			&m.Metadata.FilePath,
			&m.Metadata.ChunkIndex,
			&m.Score,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return matches, nil
}

func (vs *VectorStore) Stats(ctx context.Context, namespace string) (models.IndexStats, error) {
	stats := models.IndexStats{Namespace: namespace, Dimension: vs.config.VectorDim}

	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE namespace = $1`, vs.table)
	if err := vs.pool.QueryRow(ctx, query, namespace).Scan(&stats.Records); err != nil {
		return stats, fmt.Errorf("failed to count records: %w", err)
	}
	return stats, nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}
