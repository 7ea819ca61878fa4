package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/watch"
)

func newWatchCommand(a *app) *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch <namespace>",
		Short: "Rebuild a namespace whenever its source documents change",
		Long: `Builds the namespace once, then watches its source directory and rebuilds
after each burst of changes. Runs until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			namespace := args[0]
			if !domain.ValidNamespace(namespace) {
				return fmt.Errorf("invalid namespace %q", namespace)
			}
			svc, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			if svc.Builder == nil || svc.SourceDir == nil {
				return errors.New("watch needs a local source directory and an index builder")
			}

			rebuild := func(ctx context.Context) error {
				report, err := svc.Builder.BuildNamespace(ctx, namespace)
				if err != nil {
					cmd.PrintErrf("build failed: %v\n", err)
					return err
				}
				printBuildReport(cmd, report)
				return nil
			}
			_ = rebuild(cmd.Context())

			dir := svc.SourceDir(namespace)
			cmd.Printf("Watching %s\n", dir)
			return watch.New(debounce).Run(cmd.Context(), dir, rebuild)
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 2*time.Second, "quiet period before rebuilding")
	return cmd
}
