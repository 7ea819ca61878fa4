package localfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
	"github.com/kirillkom/compliance-rag/internal/core/ports"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/vector/flat"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/vector/manifest"
)

const (
	Backend = "localfs"

	chunksFile  = "chunks.json"
	vectorsFile = "vectors.bin"

	// build directories exist uncommitted only while their files are written
	orphanBuildAge = 10 * time.Minute
)

// Store persists each namespace as a directory holding a signed manifest and
// one build directory. Queries run on an in-memory flat index.
type Store struct {
	root   string
	signer *manifest.Signer
	now    func() time.Time
}

func NewStore(root string, signer *manifest.Signer) (*Store, error) {
	if root == "" {
		root = "./data/indexes"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create index root: %w", err)
	}
	return &Store{root: root, signer: signer, now: time.Now}, nil
}

func (s *Store) Build(ctx context.Context, namespace string, chunks []domain.Chunk, vectors [][]float32) (domain.IndexInfo, error) {
	if !domain.ValidNamespace(namespace) {
		return domain.IndexInfo{}, domain.WrapError(domain.ErrInvalidInput, "build index", fmt.Errorf("invalid namespace %q", namespace))
	}
	dim, err := manifest.ValidateBuild(chunks, vectors)
	if err != nil {
		return domain.IndexInfo{}, domain.WrapError(domain.ErrIndexBuild, "build index "+namespace, err)
	}

	previous, err := s.readManifest(namespace)
	if err != nil && !domain.IsKind(err, domain.ErrIndexNotFound) {
		slog.WarnContext(ctx, "index_previous_manifest_unreadable", "namespace", namespace, "error", err)
	}

	nsDir := filepath.Join(s.root, namespace)
	buildID := uuid.NewString()
	buildDir := filepath.Join(nsDir, buildID)

	info, err := s.writeBuild(ctx, nsDir, buildDir, namespace, buildID, chunks, vectors, dim)
	if err != nil {
		if rmErr := os.RemoveAll(buildDir); rmErr != nil {
			slog.WarnContext(ctx, "index_cleanup_failed", "namespace", namespace, "build_id", buildID, "error", rmErr)
		}
		return domain.IndexInfo{}, domain.WrapError(domain.ErrIndexBuild, "build index "+namespace, err)
	}

	s.removeStaleBuilds(ctx, namespace, previous.BuildID)
	return info, nil
}

func (s *Store) writeBuild(
	ctx context.Context,
	nsDir, buildDir, namespace, buildID string,
	chunks []domain.Chunk,
	vectors [][]float32,
	dim int,
) (domain.IndexInfo, error) {
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return domain.IndexInfo{}, fmt.Errorf("create build dir: %w", err)
	}

	chunkBytes, err := json.Marshal(chunks)
	if err != nil {
		return domain.IndexInfo{}, fmt.Errorf("encode chunks: %w", err)
	}
	vectorBytes := encodeVectors(vectors, dim)

	if err := os.WriteFile(filepath.Join(buildDir, chunksFile), chunkBytes, 0o644); err != nil {
		return domain.IndexInfo{}, fmt.Errorf("write chunks: %w", err)
	}
	if err := os.WriteFile(filepath.Join(buildDir, vectorsFile), vectorBytes, 0o644); err != nil {
		return domain.IndexInfo{}, fmt.Errorf("write vectors: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return domain.IndexInfo{}, err
	}

	m := manifest.Manifest{
		Namespace:  namespace,
		BuildID:    buildID,
		Backend:    Backend,
		ChunkCount: len(chunks),
		Dimension:  dim,
		CreatedAt:  s.now().UTC(),
		Digest:     manifest.Digest(chunkBytes, vectorBytes),
	}
	if err := manifest.Write(nsDir, m, s.signer); err != nil {
		return domain.IndexInfo{}, err
	}
	return m.Info(), nil
}

// removeStaleBuilds deletes the build replaced by this commit and orphans left
// by crashed builds. The live build and fresh directories of builds still
// being written by another process are kept.
func (s *Store) removeStaleBuilds(ctx context.Context, namespace, previous string) {
	nsDir := filepath.Join(s.root, namespace)
	current, err := s.readManifest(namespace)
	if err != nil {
		slog.WarnContext(ctx, "index_cleanup_skipped", "namespace", namespace, "error", err)
		return
	}
	entries, err := os.ReadDir(nsDir)
	if err != nil {
		slog.WarnContext(ctx, "index_cleanup_failed", "dir", nsDir, "error", err)
		return
	}
	cutoff := s.now().Add(-orphanBuildAge)
	for _, e := range entries {
		if !e.IsDir() || e.Name() == current.BuildID {
			continue
		}
		if e.Name() != previous {
			fi, err := e.Info()
			if err != nil || fi.ModTime().After(cutoff) {
				continue
			}
		}
		if err := os.RemoveAll(filepath.Join(nsDir, e.Name())); err != nil {
			slog.WarnContext(ctx, "index_cleanup_failed", "dir", e.Name(), "error", err)
		}
	}
}

func (s *Store) Load(ctx context.Context, namespace string) (ports.VectorIndex, error) {
	m, err := s.readManifest(namespace)
	if err != nil {
		return nil, err
	}

	buildDir := filepath.Join(s.root, namespace, m.BuildID)
	chunkBytes, err := os.ReadFile(filepath.Join(buildDir, chunksFile))
	if err != nil {
		return nil, domain.WrapError(domain.ErrIndexCorrupt, "load index "+namespace, err)
	}
	vectorBytes, err := os.ReadFile(filepath.Join(buildDir, vectorsFile))
	if err != nil {
		return nil, domain.WrapError(domain.ErrIndexCorrupt, "load index "+namespace, err)
	}
	if manifest.Digest(chunkBytes, vectorBytes) != m.Digest {
		return nil, domain.WrapError(domain.ErrIndexCorrupt, "load index "+namespace, errors.New("data digest mismatch"))
	}

	var chunks []domain.Chunk
	if err := json.Unmarshal(chunkBytes, &chunks); err != nil {
		return nil, domain.WrapError(domain.ErrIndexCorrupt, "decode chunks", err)
	}
	vectors, dim, err := decodeVectors(vectorBytes)
	if err != nil {
		return nil, domain.WrapError(domain.ErrIndexCorrupt, "decode vectors", err)
	}
	if dim != m.Dimension || len(vectors) != m.ChunkCount {
		return nil, domain.WrapError(domain.ErrIndexCorrupt, "load index "+namespace, errors.New("data does not match manifest"))
	}

	ix, err := flat.New(m.Info(), chunks, vectors)
	if err != nil {
		return nil, domain.WrapError(domain.ErrIndexCorrupt, "load index "+namespace, err)
	}
	slog.InfoContext(ctx, "index_loaded", "namespace", namespace, "build_id", m.BuildID, "chunks", m.ChunkCount)
	return ix, nil
}

func (s *Store) Revision(_ context.Context, namespace string) (string, error) {
	m, err := s.readManifest(namespace)
	if err != nil {
		return "", err
	}
	return m.BuildID, nil
}

func (s *Store) List(ctx context.Context) ([]domain.IndexInfo, error) {
	return manifest.List(ctx, s.root, Backend, s.signer)
}

func (s *Store) readManifest(namespace string) (manifest.Manifest, error) {
	return manifest.ReadNamespace(s.root, namespace, Backend, s.signer)
}
