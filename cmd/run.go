package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/tender-ingest/internal/tender"
)

func newRunCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Executes one ingestion run and exits",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			state, err := a.Run(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(state.Payload()); err != nil {
					return fmt.Errorf("encode run: %w", err)
				}
			} else {
				fmt.Fprintf(out, "run %s: %s\n", state.RunID, state.Status)
				fmt.Fprintf(out, "  sources %d, listings %d ok / %d failed, links %d\n",
					state.Stats.SourcesChecked, state.Stats.ListingsFetched, state.Stats.ListingsFailed, state.Stats.LinksDiscovered)
				fmt.Fprintf(out, "  notices %d parsed, %d relevant, %d unique (%d duplicates)\n",
					state.Stats.NoticesParsed, state.Stats.NoticesRelevant, state.Stats.NoticesUnique, state.Stats.DuplicatesRemoved)
				for _, e := range state.Errors {
					fmt.Fprintf(out, "  ! %s: %s\n", e.Stage, e.Message)
				}
			}
			if state.Status == tender.RunFailed {
				return fmt.Errorf("run %s failed", state.RunID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run payload as JSON")
	return cmd
}
