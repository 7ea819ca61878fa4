package domain

import (
	"path/filepath"
	"strings"
)

// SourceDocument is a raw file handed to a build. It lives only for the duration of that build.
type SourceDocument struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	StorageKey string `json:"storage_key"`
}

// Extension returns the lower-cased file extension including the dot.
func (d SourceDocument) Extension() string {
	name := d.Filename
	if name == "" {
		name = d.StorageKey
	}
	return strings.ToLower(filepath.Ext(name))
}

// TextUnit is the text of one page. Page is 1-based; 0 means the whole file.
type TextUnit struct {
	SourceID string `json:"source_id"`
	Page     int    `json:"page"`
	Text     string `json:"text"`
}

// DocumentFailure records a source that was skipped during a build.
type DocumentFailure struct {
	SourceID string `json:"source_id"`
	Error    string `json:"error"`
}

// BuildReport summarises a finished build.
type BuildReport struct {
	Index           IndexInfo         `json:"index"`
	DocumentCount   int               `json:"document_count"`
	FailedDocuments []DocumentFailure `json:"failed_documents,omitempty"`
}
