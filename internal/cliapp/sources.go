package cliapp

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rohmanhakim/crawlcore/internal/source"
	"github.com/rohmanhakim/crawlcore/internal/storage"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Inspect and manage crawl sources",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all known sources",
	RunE:  runSourcesList,
}

var renameTo string

var sourcesRenameCmd = &cobra.Command{
	Use:   "rename <source-id>",
	Short: "Rename a source without disturbing its crawl history",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourcesRename,
}

func init() {
	sourcesRenameCmd.Flags().StringVar(&renameTo, "to", "", "the new name")
	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesRenameCmd)
}

func runSourcesList(cmd *cobra.Command, args []string) error {
	db, err := storage.Open(resolveDatabasePath())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	repo := source.New(db)
	sources, err := repo.List(cmd.Context())
	if err != nil {
		return err
	}
	for _, s := range sources {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", s.ID, s.Name, s.BaseURL)
	}
	return nil
}

func runSourcesRename(cmd *cobra.Command, args []string) error {
	if renameTo == "" {
		return fmt.Errorf("--to is required")
	}
	db, err := storage.Open(resolveDatabasePath())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	repo := source.New(db)
	return repo.Rename(cmd.Context(), args[0], renameTo)
}
