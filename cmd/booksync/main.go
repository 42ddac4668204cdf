package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/stokaro/booksync/cmd/collections"
	"github.com/stokaro/booksync/cmd/generate"
	"github.com/stokaro/booksync/cmd/migrate"
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "booksync",
		Short: "Schema migrations for the booksync collection catalog",
		Long: `booksync manages the collection catalog of the book sync backend.

Settings come from flags, BOOKSYNC_* environment variables or a config file
passed with --config.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		migrate.NewMigrateCommand(),
		collections.NewCollectionsCommand(),
		generate.NewGenerateCommand(),
	)
	return rootCmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
