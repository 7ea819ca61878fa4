package domain

import "time"

type BuildStatus string

const (
	BuildQueued  BuildStatus = "queued"
	BuildRunning BuildStatus = "building"
	BuildReady   BuildStatus = "ready"
	BuildFailed  BuildStatus = "failed"
)

// BuildRecord tracks an asynchronous index build requested through the API.
type BuildRecord struct {
	ID              string            `json:"id"`
	Namespace       string            `json:"namespace"`
	Status          BuildStatus       `json:"status"`
	DocumentCount   int               `json:"document_count"`
	ChunkCount      int               `json:"chunk_count"`
	FailedDocuments []DocumentFailure `json:"failed_documents"`
	Error           string            `json:"error,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}
