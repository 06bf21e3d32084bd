package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/tender-ingest/internal/registry"
)

func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "Lists the configured sources and, when Redis is configured, their last fetch outcome",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			sources, err := registry.Load(a.Config.Registry.Path)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTRATEGY\tENABLED\tLISTING\tLAST SUCCESS\tLAST ERROR")
			for _, src := range sources {
				lastOK, lastErr := "-", "-"
				if a.Health != nil {
					st, err := a.Health.Status(cmd.Context(), src.Name)
					if err != nil {
						return fmt.Errorf("read health of %s: %w", src.Name, err)
					}
					if !st.LastSuccess.IsZero() {
						lastOK = st.LastSuccess.Format(time.RFC3339)
					}
					if st.LastError != "" {
						lastErr = fmt.Sprintf("%s (%s)", st.LastError, st.LastErrorAt.Format(time.RFC3339))
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\n", src.Name, src.Strategy, src.Enabled, src.ListingURL, lastOK, lastErr)
			}
			return w.Flush()
		},
	}
}
