package index

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresClient stores index documents in a single jsonb-backed table keyed
// by (index_name, doc_id), which makes upserts naturally idempotent.
type PostgresClient struct {
	pool  *pgxpool.Pool
	table string
}

func NewPostgresClient(ctx context.Context, dsn, table string) (*PostgresClient, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	if table == "" {
		table = "indexsync_documents"
	}
	if err := validTableName(table); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	c := &PostgresClient{pool: pool, table: table}
	if err := c.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

func (c *PostgresClient) ensureSchema(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			index_name text NOT NULL,
			doc_id     text NOT NULL,
			payload    jsonb NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (index_name, doc_id)
		)`, c.table))
	if err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	return nil
}

func (c *PostgresClient) Upsert(ctx context.Context, indexName, docID string, payload map[string]any) error {
	_, err := c.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (index_name, doc_id, payload, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (index_name, doc_id)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`, c.table),
		indexName, docID, payload)
	if err != nil {
		return classifyPgError(err)
	}
	return nil
}

func (c *PostgresClient) Delete(ctx context.Context, indexName, docID string) error {
	_, err := c.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE index_name = $1 AND doc_id = $2`, c.table),
		indexName, docID)
	if err != nil {
		return classifyPgError(err)
	}
	return nil
}

func (c *PostgresClient) Close() error {
	c.pool.Close()
	return nil
}

// classifyPgError maps postgres failures onto the dispatcher's
// retryable-vs-fatal split. Connection-class and resource-class SQLSTATEs are
// transient; data, constraint, and syntax errors are terminal.
func classifyPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		class := ""
		if len(pgErr.Code) >= 2 {
			class = pgErr.Code[:2]
		}
		retryable := class == "08" || class == "53" || class == "57" || pgErr.Code == "40001"
		return &RemoteError{Backend: "postgres", Retryable: retryable, Msg: pgErr.Message}
	}
	// Anything below the protocol (dial failures, broken pipes) is transient.
	return &RemoteError{Backend: "postgres", Retryable: true, Msg: err.Error()}
}

func validTableName(table string) error {
	for _, r := range table {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' {
			continue
		}
		return fmt.Errorf("invalid table name %q", table)
	}
	if strings.TrimSpace(table) == "" {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}
