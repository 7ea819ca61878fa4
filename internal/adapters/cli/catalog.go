package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newNamespacesCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "namespaces",
		Short: "List namespaces with a committed index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			if svc.Catalog == nil {
				return errors.New("catalog not configured")
			}
			infos, err := svc.Catalog.ListNamespaces(cmd.Context())
			if err != nil {
				return fmt.Errorf("list namespaces: %w", err)
			}
			if asJSON {
				return printJSON(cmd, infos)
			}
			if len(infos) == 0 {
				cmd.Println("No namespaces indexed.")
				return nil
			}
			for _, info := range infos {
				cmd.Printf("  %-24s %6d chunks  %-8s %s\n",
					info.Namespace, info.ChunkCount, info.Backend, info.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newTemplatesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List prompt templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			if svc.Catalog == nil {
				return errors.New("catalog not configured")
			}
			for _, tpl := range svc.Catalog.Templates() {
				marker := " "
				if tpl.Compliance {
					marker = "*"
				}
				cmd.Printf("%s %-24s %s\n", marker, tpl.Name, tpl.Description)
			}
			return nil
		},
	}
}
