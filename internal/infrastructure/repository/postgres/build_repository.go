package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
)

type BuildRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewBuildRepository(db *sql.DB) *BuildRepository {
	return &BuildRepository{db: db, now: time.Now}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *BuildRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS index_builds (
	id TEXT PRIMARY KEY,
	namespace TEXT NOT NULL,
	status TEXT NOT NULL,
	document_count INTEGER NOT NULL DEFAULT 0,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	failed_documents JSONB NOT NULL DEFAULT '[]'::jsonb,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_index_builds_namespace ON index_builds(namespace, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_index_builds_status ON index_builds(status);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *BuildRepository) Create(ctx context.Context, build *domain.BuildRecord) error {
	failedJSON, err := marshalFailures(build.FailedDocuments)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO index_builds (
	id, namespace, status, document_count, chunk_count, failed_documents, error_message, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`,
		build.ID, build.Namespace, string(build.Status), build.DocumentCount, build.ChunkCount,
		failedJSON, build.Error, build.CreatedAt, build.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert build: %w", err)
	}
	return nil
}

func (r *BuildRepository) GetByID(ctx context.Context, id string) (*domain.BuildRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, namespace, status, document_count, chunk_count, failed_documents, error_message, created_at, updated_at
FROM index_builds
WHERE id = $1
`, id)

	var build domain.BuildRecord
	var failedRaw []byte
	var status string

	err := row.Scan(
		&build.ID, &build.Namespace, &status, &build.DocumentCount, &build.ChunkCount,
		&failedRaw, &build.Error, &build.CreatedAt, &build.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrBuildNotFound, "get build", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan build: %w", err)
	}

	if err := json.Unmarshal(failedRaw, &build.FailedDocuments); err != nil {
		return nil, fmt.Errorf("unmarshal failed documents: %w", err)
	}
	if build.FailedDocuments == nil {
		build.FailedDocuments = []domain.DocumentFailure{}
	}
	build.Status = domain.BuildStatus(status)
	return &build, nil
}

func (r *BuildRepository) UpdateStatus(ctx context.Context, id string, status domain.BuildStatus, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE index_builds
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, id, string(status), errMessage, r.now().UTC())
	if err != nil {
		return fmt.Errorf("update build status: %w", err)
	}
	return requireAffected(res, "update build status", id)
}

func (r *BuildRepository) SaveReport(ctx context.Context, id string, report domain.BuildReport) error {
	failedJSON, err := marshalFailures(report.FailedDocuments)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE index_builds
SET document_count = $2, chunk_count = $3, failed_documents = $4, updated_at = $5
WHERE id = $1
`, id, report.DocumentCount, report.Index.ChunkCount, failedJSON, r.now().UTC())
	if err != nil {
		return fmt.Errorf("save build report: %w", err)
	}
	return requireAffected(res, "save build report", id)
}

func marshalFailures(failures []domain.DocumentFailure) ([]byte, error) {
	if failures == nil {
		failures = []domain.DocumentFailure{}
	}
	raw, err := json.Marshal(failures)
	if err != nil {
		return nil, fmt.Errorf("marshal failed documents: %w", err)
	}
	return raw, nil
}

func requireAffected(res sql.Result, op, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrBuildNotFound, op, fmt.Errorf("id=%s", id))
	}
	return nil
}
