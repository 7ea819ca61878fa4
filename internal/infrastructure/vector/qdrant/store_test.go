package qdrant

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/vector/manifest"
)

type fakeClient struct {
	mu          sync.Mutex
	collections map[string][]*qdrant.PointStruct
	deleted     []string
	upsertErr   error
	upserts     int
	lastQuery   *qdrant.QueryPoints
	hits        []*qdrant.ScoredPoint
	scrolls     int
}

func newFakeClient() *fakeClient {
	return &fakeClient{collections: map[string][]*qdrant.PointStruct{}}
}

func (f *fakeClient) CollectionExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.collections[name]
	return ok, nil
}

func (f *fakeClient) CreateCollection(_ context.Context, req *qdrant.CreateCollection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[req.GetCollectionName()] = nil
	return nil
}

func (f *fakeClient) DeleteCollection(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.collections, name)
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeClient) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.upsertErr != nil && f.upserts > 1 {
		return nil, f.upsertErr
	}
	name := req.GetCollectionName()
	f.collections[name] = append(f.collections[name], req.GetPoints()...)
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeClient) Count(_ context.Context, req *qdrant.CountPoints) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.collections[req.GetCollectionName()])), nil
}

func (f *fakeClient) Query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = req
	return f.hits, nil
}

func (f *fakeClient) Scroll(_ context.Context, req *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	points := slices.Clone(f.collections[req.GetCollectionName()])
	slices.SortFunc(points, func(a, b *qdrant.PointStruct) int {
		return cmp.Compare(a.GetId().GetNum(), b.GetId().GetNum())
	})
	var out []*qdrant.RetrievedPoint
	for _, p := range points {
		if p.GetId().GetNum() < req.GetOffset().GetNum() {
			continue
		}
		if len(out) == int(req.GetLimit()) {
			break
		}
		out = append(out, &qdrant.RetrievedPoint{Id: p.GetId(), Payload: p.GetPayload()})
	}
	f.scrolls++
	return out, nil
}

func (f *fakeClient) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.collections))
	for name := range f.collections {
		out = append(out, name)
	}
	return out
}

func newTestStore(t *testing.T, client PointsClient) *Store {
	t.Helper()
	signer, err := manifest.NewSigner([]byte("qdrant-test-signing-key"))
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	store, err := NewStore(client, t.TempDir(), signer, "test")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

func fixture(n int) ([]domain.Chunk, [][]float32) {
	chunks := make([]domain.Chunk, n)
	vectors := make([][]float32, n)
	for i := range chunks {
		chunks[i] = domain.Chunk{ID: fmt.Sprintf("c-%d", i), SourceID: "a.pdf", PageStart: 1, PageEnd: 1, Ordinal: i, Text: fmt.Sprintf("text %d", i)}
		vectors[i] = []float32{float32(i), 1}
	}
	return chunks, vectors
}

func TestBuildUploadsInBatchesAndCommitsManifest(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	store := newTestStore(t, client)
	store.batchSize = 2

	chunks, vectors := fixture(5)
	info, err := store.Build(ctx, "guidelines", chunks, vectors)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if client.upserts != 3 {
		t.Fatalf("expected 3 upsert batches, got %d", client.upserts)
	}
	if info.Backend != Backend || info.ChunkCount != 5 || info.Dimension != 2 {
		t.Fatalf("unexpected info %+v", info)
	}

	rev, err := store.Revision(ctx, "guidelines")
	if err != nil || rev != info.BuildID {
		t.Fatalf("Revision() = %q, %v", rev, err)
	}
	if _, err := store.Load(ctx, "guidelines"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestBuildReplacesPreviousCollection(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	store := newTestStore(t, client)

	chunks, vectors := fixture(2)
	if _, err := store.Build(ctx, "ns", chunks, vectors); err != nil {
		t.Fatalf("first Build() error = %v", err)
	}
	first := client.names()
	if _, err := store.Build(ctx, "ns", chunks, vectors); err != nil {
		t.Fatalf("second Build() error = %v", err)
	}

	names := client.names()
	if len(names) != 1 || names[0] == first[0] {
		t.Fatalf("expected only the new collection to remain, got %v (first %v)", names, first)
	}
	if !strings.HasPrefix(names[0], "test_ns_") {
		t.Fatalf("unexpected collection name %q", names[0])
	}
}

func TestFailedUploadKeepsPreviousBuild(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	store := newTestStore(t, client)

	chunks, vectors := fixture(2)
	first, err := store.Build(ctx, "ns", chunks, vectors)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	client.upsertErr = status.Error(codes.Unavailable, "node down")
	_, err = store.Build(ctx, "ns", chunks, vectors)
	if !domain.IsKind(err, domain.ErrIndexBuild) || !domain.IsKind(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrIndexBuild with unavailable backend, got %v", err)
	}

	rev, err := store.Revision(ctx, "ns")
	if err != nil || rev != first.BuildID {
		t.Fatalf("expected previous build to stay live, got %q, %v", rev, err)
	}
	if len(client.names()) != 1 {
		t.Fatalf("expected partial collection to be dropped, got %v", client.names())
	}
}

func TestFailedFirstBuildIsNotFound(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	client.upsertErr = errors.New("disk full")
	client.upserts = 1
	store := newTestStore(t, client)

	chunks, vectors := fixture(2)
	if _, err := store.Build(ctx, "fresh", chunks, vectors); !domain.IsKind(err, domain.ErrIndexBuild) {
		t.Fatalf("expected ErrIndexBuild, got %v", err)
	}
	if _, err := store.Load(ctx, "fresh"); !domain.IsKind(err, domain.ErrIndexNotFound) {
		t.Fatalf("expected ErrIndexNotFound, got %v", err)
	}
}

func TestLoadVerifiesPayloadDigest(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	store := newTestStore(t, client)
	store.pageSize = 2

	chunks, vectors := fixture(5)
	info, err := store.Build(ctx, "policies", chunks, vectors)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if _, err := store.Load(ctx, "policies"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if client.scrolls != 3 {
		t.Fatalf("expected 3 scroll pages, got %d", client.scrolls)
	}

	collection := store.collectionName("policies", info.BuildID)
	client.mu.Lock()
	client.collections[collection][3].Payload["text"] = qdrant.NewValueString("tampered")
	client.mu.Unlock()

	if _, err := store.Load(ctx, "policies"); !domain.IsKind(err, domain.ErrIndexCorrupt) {
		t.Fatalf("expected ErrIndexCorrupt after payload change, got %v", err)
	}
}

func TestLoadDetectsMissingOrShortCollection(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	store := newTestStore(t, client)

	chunks, vectors := fixture(3)
	if _, err := store.Build(ctx, "ns", chunks, vectors); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	name := client.names()[0]

	client.mu.Lock()
	client.collections[name] = client.collections[name][:2]
	client.mu.Unlock()
	if _, err := store.Load(ctx, "ns"); !domain.IsKind(err, domain.ErrIndexCorrupt) {
		t.Fatalf("expected ErrIndexCorrupt for short collection, got %v", err)
	}

	_ = client.DeleteCollection(ctx, name)
	if _, err := store.Load(ctx, "ns"); !domain.IsKind(err, domain.ErrIndexCorrupt) {
		t.Fatalf("expected ErrIndexCorrupt for missing collection, got %v", err)
	}
}

func TestQueryDecodesPayloadAndOrdersTies(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	store := newTestStore(t, client)

	chunks, vectors := fixture(3)
	if _, err := store.Build(ctx, "ns", chunks, vectors); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	ix, err := store.Load(ctx, "ns")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	hit := func(c domain.Chunk, score float32) *qdrant.ScoredPoint {
		return &qdrant.ScoredPoint{Score: score, Payload: qdrant.NewValueMap(chunkPayload(c, "b"))}
	}
	client.hits = []*qdrant.ScoredPoint{hit(chunks[2], 0.5), hit(chunks[1], 0.9), hit(chunks[0], 0.5)}

	got, err := ix.Query(ctx, []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if got[0].Ordinal != 1 || got[1].Ordinal != 0 || got[2].Ordinal != 2 {
		t.Fatalf("unexpected order %d %d %d", got[0].Ordinal, got[1].Ordinal, got[2].Ordinal)
	}
	if got[1].Chunk != chunks[0] {
		t.Fatalf("payload did not decode: %+v", got[1].Chunk)
	}
	if client.lastQuery.GetLimit() != 3 {
		t.Fatalf("expected limit 3, got %d", client.lastQuery.GetLimit())
	}

	if _, err := ix.Query(ctx, []float32{1}, 3); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for wrong dimension, got %v", err)
	}
}

func TestClassifyMapsStatusCodes(t *testing.T) {
	cases := []struct {
		err  error
		kind error
	}{
		{status.Error(codes.Unavailable, "x"), domain.ErrBackendUnavailable},
		{status.Error(codes.ResourceExhausted, "x"), domain.ErrRateLimited},
		{status.Error(codes.InvalidArgument, "x"), domain.ErrMalformedRequest},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), domain.ErrTemporary},
	}
	for _, tc := range cases {
		if got := classify("op", tc.err); !domain.IsKind(got, tc.kind) {
			t.Fatalf("classify(%v) = %v, want kind %v", tc.err, got, tc.kind)
		}
	}
	if got := classify("op", errors.New("plain")); domain.IsKind(got, domain.ErrTemporary) {
		t.Fatalf("plain errors must not be temporary")
	}
}
