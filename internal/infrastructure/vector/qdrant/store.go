package qdrant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
	"github.com/kirillkom/compliance-rag/internal/core/ports"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/vector/manifest"
)

const (
	Backend = "qdrant"

	defaultBatchSize = 256
	scrollPageSize   = 512
)

// PointsClient is the subset of *qdrant.Client the store needs.
type PointsClient interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, collectionName string) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Scroll(ctx context.Context, request *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error)
}

type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// Dial opens a gRPC connection to Qdrant.
func Dial(cfg Config) (*qdrant.Client, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return client, nil
}

// Store keeps every build in its own collection. The signed manifest under
// root names the live collection, so a half-uploaded build is never visible.
type Store struct {
	client    PointsClient
	root      string
	signer    *manifest.Signer
	prefix    string
	batchSize int
	pageSize  int
	now       func() time.Time
}

func NewStore(client PointsClient, root string, signer *manifest.Signer, collectionPrefix string) (*Store, error) {
	if root == "" {
		root = "./data/indexes"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create index root: %w", err)
	}
	if collectionPrefix == "" {
		collectionPrefix = "crag"
	}
	return &Store{
		client:    client,
		root:      root,
		signer:    signer,
		prefix:    collectionPrefix,
		batchSize: defaultBatchSize,
		pageSize:  scrollPageSize,
		now:       time.Now,
	}, nil
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

	buildID := uuid.NewString()
	collection := s.collectionName(namespace, buildID)

	info, err := s.upload(ctx, namespace, buildID, collection, chunks, vectors, dim)
	if err != nil {
		// the build context may already be cancelled
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if delErr := s.client.DeleteCollection(cleanupCtx, collection); delErr != nil {
			slog.WarnContext(ctx, "index_cleanup_failed", "collection", collection, "error", delErr)
		}
		return domain.IndexInfo{}, domain.WrapKinds("build index "+namespace, err, domain.ErrIndexBuild)
	}

	if previous.Collection != "" && previous.Collection != collection {
		if err := s.client.DeleteCollection(ctx, previous.Collection); err != nil {
			slog.WarnContext(ctx, "index_cleanup_failed", "collection", previous.Collection, "error", err)
		}
	}
	return info, nil
}

func (s *Store) upload(
	ctx context.Context,
	namespace, buildID, collection string,
	chunks []domain.Chunk,
	vectors [][]float32,
	dim int,
) (domain.IndexInfo, error) {
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return domain.IndexInfo{}, classify("create collection "+collection, err)
	}

	for start := 0; start < len(chunks); start += s.batchSize {
		end := min(start+s.batchSize, len(chunks))
		points := make([]*qdrant.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDNum(uint64(i)),
				Vectors: qdrant.NewVectors(vectors[i]...),
				Payload: qdrant.NewValueMap(chunkPayload(chunks[i], buildID)),
			})
		}
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return domain.IndexInfo{}, classify(fmt.Sprintf("upsert points %d-%d", start, end), err)
		}
	}

	chunkBytes, err := json.Marshal(chunks)
	if err != nil {
		return domain.IndexInfo{}, fmt.Errorf("encode chunks: %w", err)
	}

	nsDir := filepath.Join(s.root, namespace)
	if err := os.MkdirAll(nsDir, 0o755); err != nil {
		return domain.IndexInfo{}, fmt.Errorf("create namespace dir: %w", err)
	}
	m := manifest.Manifest{
		Namespace:  namespace,
		BuildID:    buildID,
		Backend:    Backend,
		Collection: collection,
		ChunkCount: len(chunks),
		Dimension:  dim,
		CreatedAt:  s.now().UTC(),
		Digest:     manifest.Digest(chunkBytes),
	}
	if err := ctx.Err(); err != nil {
		return domain.IndexInfo{}, err
	}
	if err := manifest.Write(nsDir, m, s.signer); err != nil {
		return domain.IndexInfo{}, err
	}
	return m.Info(), nil
}

func (s *Store) Load(ctx context.Context, namespace string) (ports.VectorIndex, error) {
	m, err := s.readManifest(namespace)
	if err != nil {
		return nil, err
	}

	exists, err := s.client.CollectionExists(ctx, m.Collection)
	if err != nil {
		return nil, classify("check collection "+m.Collection, err)
	}
	if !exists {
		return nil, domain.WrapError(domain.ErrIndexCorrupt, "load index "+namespace, fmt.Errorf("collection %s is missing", m.Collection))
	}
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: m.Collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return nil, classify("count points "+m.Collection, err)
	}
	if count != uint64(m.ChunkCount) {
		return nil, domain.WrapError(domain.ErrIndexCorrupt, "load index "+namespace,
			fmt.Errorf("collection holds %d points, manifest says %d", count, m.ChunkCount))
	}
	if err := s.verifyDigest(ctx, m); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "index_loaded", "namespace", namespace, "build_id", m.BuildID, "collection", m.Collection)
	return &collectionIndex{client: s.client, collection: m.Collection, info: m.Info()}, nil
}

// verifyDigest re-reads every payload in ordinal order and checks it against
// the digest recorded at build time.
func (s *Store) verifyDigest(ctx context.Context, m manifest.Manifest) error {
	chunks := make([]domain.Chunk, 0, m.ChunkCount)
	next := uint64(0)
	for {
		points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: m.Collection,
			Offset:         qdrant.NewIDNum(next),
			Limit:          qdrant.PtrOf(uint32(s.pageSize)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return classify("scroll points "+m.Collection, err)
		}
		for _, p := range points {
			chunks = append(chunks, payloadChunk(p.GetPayload()))
			next = p.GetId().GetNum() + 1
		}
		if len(points) < s.pageSize {
			break
		}
	}

	chunkBytes, err := json.Marshal(chunks)
	if err != nil {
		return fmt.Errorf("encode chunks: %w", err)
	}
	if manifest.Digest(chunkBytes) != m.Digest {
		return domain.WrapError(domain.ErrIndexCorrupt, "load index "+m.Namespace,
			fmt.Errorf("payloads of %s do not match the manifest digest", m.Collection))
	}
	return nil
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

func (s *Store) collectionName(namespace, buildID string) string {
	short := strings.ReplaceAll(buildID, "-", "")[:12]
	return s.prefix + "_" + namespace + "_" + short
}

type collectionIndex struct {
	client     PointsClient
	collection string
	info       domain.IndexInfo
}

func (ix *collectionIndex) Info() domain.IndexInfo {
	return ix.info
}

func (ix *collectionIndex) Query(ctx context.Context, vector []float32, k int) ([]domain.RetrievedChunk, error) {
	if k <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "query index", fmt.Errorf("k must be positive, got %d", k))
	}
	if len(vector) != ix.info.Dimension {
		return nil, domain.WrapError(domain.ErrInvalidInput, "query index",
			fmt.Errorf("query dimension %d does not match index dimension %d", len(vector), ix.info.Dimension))
	}

	hits, err := ix.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: ix.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, classify("query "+ix.collection, err)
	}

	out := make([]domain.RetrievedChunk, 0, len(hits))
	for _, hit := range hits {
		score := float64(hit.GetScore())
		out = append(out, domain.RetrievedChunk{
			Chunk:    payloadChunk(hit.GetPayload()),
			Score:    score,
			Distance: 1 - score,
		})
	}
	// Qdrant does not define the order of equal scores.
	slices.SortStableFunc(out, func(a, b domain.RetrievedChunk) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return a.Ordinal - b.Ordinal
		}
	})
	return out, nil
}

func chunkPayload(c domain.Chunk, buildID string) map[string]any {
	return map[string]any{
		"chunk_id":   c.ID,
		"source_id":  c.SourceID,
		"page_start": int64(c.PageStart),
		"page_end":   int64(c.PageEnd),
		"ordinal":    int64(c.Ordinal),
		"start":      int64(c.Start),
		"end":        int64(c.End),
		"text":       c.Text,
		"build_id":   buildID,
	}
}

func payloadChunk(p map[string]*qdrant.Value) domain.Chunk {
	return domain.Chunk{
		ID:        p["chunk_id"].GetStringValue(),
		SourceID:  p["source_id"].GetStringValue(),
		PageStart: int(p["page_start"].GetIntegerValue()),
		PageEnd:   int(p["page_end"].GetIntegerValue()),
		Ordinal:   int(p["ordinal"].GetIntegerValue()),
		Start:     int(p["start"].GetIntegerValue()),
		End:       int(p["end"].GetIntegerValue()),
		Text:      p["text"].GetStringValue(),
	}
}

// classify maps gRPC status codes onto domain kinds.
func classify(op string, err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted:
		return domain.WrapKinds(op, err, domain.ErrBackendUnavailable, domain.ErrTemporary)
	case codes.ResourceExhausted:
		return domain.WrapKinds(op, err, domain.ErrRateLimited, domain.ErrTemporary)
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return domain.WrapKinds(op, err, domain.ErrMalformedRequest)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapKinds(op, err, domain.ErrBackendUnavailable, domain.ErrTemporary)
	}
	return fmt.Errorf("%s: %w", op, err)
}
