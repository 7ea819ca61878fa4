// Package sqlite is the single-file build repository used by ragctl and
// single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/kirillkom/compliance-rag/internal/core/domain"
	"github.com/kirillkom/compliance-rag/internal/core/ports"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/repository/sqlite/migrations"
)

var _ ports.BuildRepository = (*BuildRepository)(nil)

type BuildRepository struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens (creating if needed) the database at path and applies pending migrations.
func Open(path string) (*BuildRepository, error) {
	if path == "" {
		path = filepath.Join("data", "builds.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	r := &BuildRepository{db: db, path: path, now: time.Now}
	if err := r.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return r, nil
}

func (r *BuildRepository) Close() error {
	return r.db.Close()
}

func (r *BuildRepository) Path() string {
	return r.path
}

func (r *BuildRepository) migrate(fsys embed.FS) error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := r.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := r.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
	}
	return nil
}

func (r *BuildRepository) Create(ctx context.Context, build *domain.BuildRecord) error {
	failedJSON, err := marshalFailures(build.FailedDocuments)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO index_builds (id, namespace, status, document_count, chunk_count, failed_documents, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, build.ID, build.Namespace, string(build.Status), build.DocumentCount, build.ChunkCount,
		failedJSON, build.Error, build.CreatedAt.UTC(), build.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting build: %w", err)
	}
	return nil
}

func (r *BuildRepository) GetByID(ctx context.Context, id string) (*domain.BuildRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, namespace, status, document_count, chunk_count, failed_documents, error_message, created_at, updated_at
		FROM index_builds WHERE id = ?
	`, id)

	var build domain.BuildRecord
	var status, failedJSON string
	if err := row.Scan(&build.ID, &build.Namespace, &status, &build.DocumentCount, &build.ChunkCount,
		&failedJSON, &build.Error, &build.CreatedAt, &build.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrBuildNotFound, "get build", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scanning build: %w", err)
	}

	if err := json.Unmarshal([]byte(failedJSON), &build.FailedDocuments); err != nil {
		return nil, fmt.Errorf("unmarshaling failed documents: %w", err)
	}
	if build.FailedDocuments == nil {
		build.FailedDocuments = []domain.DocumentFailure{}
	}
	build.Status = domain.BuildStatus(status)
	return &build, nil
}

func (r *BuildRepository) UpdateStatus(ctx context.Context, id string, status domain.BuildStatus, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE index_builds SET status = ?, error_message = ?, updated_at = ? WHERE id = ?
	`, string(status), errMessage, r.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating build status: %w", err)
	}
	return requireAffected(res, "update build status", id)
}

func (r *BuildRepository) SaveReport(ctx context.Context, id string, report domain.BuildReport) error {
	failedJSON, err := marshalFailures(report.FailedDocuments)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE index_builds SET document_count = ?, chunk_count = ?, failed_documents = ?, updated_at = ? WHERE id = ?
	`, report.DocumentCount, report.Index.ChunkCount, failedJSON, r.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("saving build report: %w", err)
	}
	return requireAffected(res, "save build report", id)
}

func marshalFailures(failures []domain.DocumentFailure) (string, error) {
	if failures == nil {
		failures = []domain.DocumentFailure{}
	}
	raw, err := json.Marshal(failures)
	if err != nil {
		return "", fmt.Errorf("marshalling failed documents: %w", err)
	}
	return string(raw), nil
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
