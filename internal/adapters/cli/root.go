// Package cli implements ragctl, the operator command line for building and
// querying compliance indexes without the HTTP API.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/compliance-rag/internal/core/ports"
)

// Services are the inbound ports the commands drive. Questions, Reports and
// SourceDir are optional; the flags and commands needing them fail with a
// clear error when they are nil.
type Services struct {
	Builder   ports.IndexBuilder
	Answerer  ports.Answerer
	Catalog   ports.Catalog
	Questions ports.QuestionReader
	Reports   ports.ReportWriter

	// SourceDir returns the directory holding a namespace's source documents.
	SourceDir func(namespace string) string
}

// Loader builds Services on first use, so --help and argument errors never
// touch the configured backends.
type Loader func(ctx context.Context) (*Services, error)

type app struct {
	load Loader
	svc  *Services
}

func (a *app) services(ctx context.Context) (*Services, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	if a.load == nil {
		return nil, errors.New("services not configured")
	}
	svc, err := a.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialising services: %w", err)
	}
	a.svc = svc
	return svc, nil
}

func NewRootCommand(load Loader) *cobra.Command {
	a := &app{load: load}
	root := &cobra.Command{
		Use:   "ragctl",
		Short: "Build and query compliance document indexes",
		Long: `ragctl builds per-namespace vector indexes from PDF and office documents
and answers questions against them with a local or hosted language model.

Compliance templates grade a question document section by section and can
export the verdicts as an XLSX workbook.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newBuildCommand(a),
		newAskCommand(a),
		newNamespacesCommand(a),
		newTemplatesCommand(a),
		newWatchCommand(a),
		newMCPCommand(a),
	)
	return root
}
