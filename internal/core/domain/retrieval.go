package domain

import (
	"regexp"
	"time"
)

// Chunk is a contiguous span of a text unit (or of joined units). Start and End
// are rune offsets into the text the chunk was cut from.
type Chunk struct {
	ID        string `json:"id"`
	SourceID  string `json:"source_id"`
	PageStart int    `json:"page_start"`
	PageEnd   int    `json:"page_end"`
	Ordinal   int    `json:"ordinal"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
	Text      string `json:"text"`
}

type RetrievedChunk struct {
	Chunk
	Score    float64 `json:"score"`
	Distance float64 `json:"distance"`
}

// IndexInfo describes a committed vector index.
type IndexInfo struct {
	Namespace  string    `json:"namespace"`
	BuildID    string    `json:"build_id"`
	Backend    string    `json:"backend"`
	ChunkCount int       `json:"chunk_count"`
	Dimension  int       `json:"dimension"`
	CreatedAt  time.Time `json:"created_at"`
}

type Answer struct {
	Text      string              `json:"text"`
	Namespace string              `json:"namespace"`
	Template  string              `json:"template"`
	Sources   []RetrievedChunk    `json:"sources"`
	Verdicts  []ComplianceVerdict `json:"verdicts,omitempty"`
}

var namespacePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// ValidNamespace reports whether ns can name an index. Namespaces become
// directory and collection names, so the alphabet is restricted.
func ValidNamespace(ns string) bool {
	return namespacePattern.MatchString(ns)
}
