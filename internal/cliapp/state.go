package cliapp

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rohmanhakim/crawlcore/internal/frontier"
	"github.com/rohmanhakim/crawlcore/internal/source"
	"github.com/rohmanhakim/crawlcore/internal/storage"
)

var stateCmd = &cobra.Command{
	Use:   "state <source-id>",
	Short: "Show the crawl state rollup for a source",
	Args:  cobra.ExactArgs(1),
	RunE:  runState,
}

func runState(cmd *cobra.Command, args []string) error {
	db, err := storage.Open(resolveDatabasePath())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	sources := source.New(db)
	src, err := sources.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	front := frontier.New(db)
	state, err := front.CrawlState(cmd.Context(), src.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "source: %s (%s)\n", src.Name, src.ID)
	fmt.Fprintf(out, "discovered: %d  fetched: %d  failed: %d  pending: %d\n",
		state.URLsDiscovered, state.URLsFetched, state.URLsFailed, state.URLsPending)
	fmt.Fprintf(out, "has_pending_urls: %t  has_unexplored_branches: %t\n",
		state.HasPendingURLs, state.HasUnexploredBranches)
	return nil
}
