package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
)

func newBuildCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "build <namespace>",
		Short: "Build the index for a namespace",
		Long: `Extracts, chunks and embeds every source document of the namespace and
atomically replaces its index. Documents that fail to extract are reported
but do not fail the build.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			if svc.Builder == nil {
				return errors.New("index builder not configured")
			}
			report, err := svc.Builder.BuildNamespace(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("build failed: %w", err)
			}
			if asJSON {
				return printJSON(cmd, report)
			}
			printBuildReport(cmd, report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the build report as JSON")
	return cmd
}

func printBuildReport(cmd *cobra.Command, report *domain.BuildReport) {
	cmd.Printf("Built %s (build %s): %d chunks from %d documents\n",
		report.Index.Namespace, report.Index.BuildID, report.Index.ChunkCount, report.DocumentCount)
	if len(report.FailedDocuments) == 0 {
		return
	}
	cmd.Printf("Failed documents (%d):\n", len(report.FailedDocuments))
	for _, f := range report.FailedDocuments {
		cmd.Printf("  %s: %s\n", f.SourceID, f.Error)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
