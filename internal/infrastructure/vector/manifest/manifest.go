// Package manifest implements the signed commit record shared by the index
// backends. A namespace is queryable only once its manifest.json is in place.
package manifest

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
)

const (
	// Version is bumped whenever the on-disk layout changes.
	Version = 1

	FileName    = "manifest.json"
	KeyFileName = ".signing-key"

	minKeyLength = 16
)

type Manifest struct {
	Version    int       `json:"version"`
	Namespace  string    `json:"namespace"`
	BuildID    string    `json:"build_id"`
	Backend    string    `json:"backend"`
	Collection string    `json:"collection,omitempty"`
	ChunkCount int       `json:"chunk_count"`
	Dimension  int       `json:"dimension"`
	CreatedAt  time.Time `json:"created_at"`
	Digest     string    `json:"digest"`
	Signature  string    `json:"signature"`
}

func (m Manifest) Info() domain.IndexInfo {
	return domain.IndexInfo{
		Namespace:  m.Namespace,
		BuildID:    m.BuildID,
		Backend:    m.Backend,
		ChunkCount: m.ChunkCount,
		Dimension:  m.Dimension,
		CreatedAt:  m.CreatedAt,
	}
}

func (m Manifest) payload() []byte {
	fields := []string{
		strconv.Itoa(m.Version),
		m.Namespace,
		m.BuildID,
		m.Backend,
		m.Collection,
		strconv.Itoa(m.ChunkCount),
		strconv.Itoa(m.Dimension),
		m.CreatedAt.UTC().Format(time.RFC3339Nano),
		m.Digest,
	}
	return []byte(strings.Join(fields, "\n"))
}

// Signer signs and verifies manifests with an installation-local HMAC key.
type Signer struct {
	key []byte
}

func NewSigner(key []byte) (*Signer, error) {
	if len(key) < minKeyLength {
		return nil, fmt.Errorf("signing key must be at least %d bytes", minKeyLength)
	}
	return &Signer{key: append([]byte(nil), key...)}, nil
}

func (s *Signer) Sign(m *Manifest) {
	m.Signature = hex.EncodeToString(s.mac(*m))
}

func (s *Signer) Verify(m Manifest) error {
	if m.Signature == "" {
		return errors.New("manifest is unsigned")
	}
	got, err := hex.DecodeString(m.Signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if !hmac.Equal(got, s.mac(m)) {
		return errors.New("signature mismatch")
	}
	return nil
}

func (s *Signer) mac(m Manifest) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write(m.payload())
	return h.Sum(nil)
}

// LoadOrCreateKey returns the configured key, or the key stored under root,
// generating and persisting a random one on first use.
func LoadOrCreateKey(root, configured string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create index root: %w", err)
	}
	path := filepath.Join(root, KeyFileName)

	raw, err := os.ReadFile(path)
	if err == nil {
		return decodeKey(raw)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read signing key: %w", err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		// another process won the race
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read signing key: %w", err)
		}
		return decodeKey(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("create signing key: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(hex.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("write signing key: %w", err)
	}
	return key, nil
}

func decodeKey(raw []byte) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	return key, nil
}

// Read loads and verifies the manifest of a namespace directory.
func Read(dir string, signer *Signer) (Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, FileName))
	if errors.Is(err, fs.ErrNotExist) {
		return Manifest{}, domain.ErrIndexNotFound
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, domain.WrapError(domain.ErrIndexCorrupt, "decode manifest", err)
	}
	if m.Version != Version {
		return Manifest{}, domain.WrapError(domain.ErrIndexCorrupt, "check manifest", fmt.Errorf("unsupported version %d", m.Version))
	}
	if err := signer.Verify(m); err != nil {
		return Manifest{}, domain.WrapError(domain.ErrIndexCorrupt, "verify manifest", err)
	}
	return m, nil
}

// Write signs m and atomically replaces the manifest in dir.
func Write(dir string, m Manifest, signer *Signer) error {
	m.Version = Version
	signer.Sign(&m)

	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, FileName)); err != nil {
		return fmt.Errorf("commit manifest: %w", err)
	}
	return nil
}

// ReadNamespace reads the manifest of namespace under root and checks that it
// names that namespace and was written by backend.
func ReadNamespace(root, namespace, backend string, signer *Signer) (Manifest, error) {
	if !domain.ValidNamespace(namespace) {
		return Manifest{}, domain.WrapError(domain.ErrInvalidInput, "load index", fmt.Errorf("invalid namespace %q", namespace))
	}
	m, err := Read(filepath.Join(root, namespace), signer)
	if err != nil {
		return Manifest{}, fmt.Errorf("load index %s: %w", namespace, err)
	}
	if m.Namespace != namespace {
		return Manifest{}, domain.WrapError(domain.ErrIndexCorrupt, "load index "+namespace, fmt.Errorf("manifest names namespace %q", m.Namespace))
	}
	if m.Backend != backend {
		return Manifest{}, domain.WrapError(domain.ErrIndexCorrupt, "load index "+namespace, fmt.Errorf("manifest belongs to backend %q", m.Backend))
	}
	return m, nil
}

// Namespaces lists the directories under root that carry a manifest file.
func Namespaces(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index root: %w", err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || !domain.ValidNamespace(e.Name()) {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, e.Name(), FileName)); err == nil {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// List returns the committed indexes under root that belong to backend, in
// namespace order. Unreadable manifests are logged and skipped.
func List(ctx context.Context, root, backend string, signer *Signer) ([]domain.IndexInfo, error) {
	names, err := Namespaces(root)
	if err != nil {
		return nil, err
	}
	out := make([]domain.IndexInfo, 0, len(names))
	for _, ns := range names {
		m, err := Read(filepath.Join(root, ns), signer)
		if err != nil {
			slog.WarnContext(ctx, "index_manifest_skipped", "namespace", ns, "error", err)
			continue
		}
		if m.Backend != backend || m.Namespace != ns {
			continue
		}
		out = append(out, m.Info())
	}
	return out, nil
}

// ValidateBuild checks that every chunk has a vector and all vectors share one
// non-zero dimension, which it returns.
func ValidateBuild(chunks []domain.Chunk, vectors [][]float32) (int, error) {
	if len(chunks) == 0 {
		return 0, errors.New("no chunks to index")
	}
	if len(chunks) != len(vectors) {
		return 0, fmt.Errorf("chunks/vectors mismatch: %d != %d", len(chunks), len(vectors))
	}
	dim := len(vectors[0])
	if dim == 0 {
		return 0, errors.New("empty embedding vector")
	}
	for i, v := range vectors {
		if len(v) != dim {
			return 0, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	return dim, nil
}

// Digest is the hex SHA-256 of the concatenated parts.
func Digest(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
