package generate

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/stokaro/booksync/migration/migrator"
)

// Migration generation flags
const (
	nameFlag      = "name"
	outputDirFlag = "output-dir"
)

func migrationFlags() map[string]cobraflags.Flag {
	return map[string]cobraflags.Flag{
		nameFlag: &cobraflags.StringFlag{
			Name:  nameFlag,
			Value: "",
			Usage: "Name for the migration (required)",
		},
		outputDirFlag: &cobraflags.StringFlag{
			Name:  outputDirFlag,
			Value: "./migrations",
			Usage: "Directory where migration files will be saved",
		},
	}
}

// NewGenerateCommand returns the generate command
func NewGenerateCommand() *cobra.Command {
	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate skeleton migration files",
		Long: `Generate skeleton migration files for manual editing.

Available subcommands:
  migration  - Generate an up/down pair of collection operation files

Examples:
  booksync generate migration --name add_reading_progress
  booksync generate migration --name add_reading_progress --output-dir ./db/migrations`,
	}

	generateCmd.AddCommand(newMigrationCommand(afero.NewOsFs(), time.Now))
	return generateCmd
}

func newMigrationCommand(fsys afero.Fs, now func() time.Time) *cobra.Command {
	flags := migrationFlags()
	migrationCmd := &cobra.Command{
		Use:   "migration",
		Short: "Generate empty migration files for manual editing",
		Long: `Generate skeleton migration files with a timestamp version and the
NNNNNNNNNN_name.up.json / NNNNNNNNNN_name.down.json naming convention.

The up file creates a collection and the down file deletes it; edit both
before running "booksync migrate up --migrations-dir <dir>".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name := flags[nameFlag].GetString()
			if name == "" {
				return fmt.Errorf("migration name is required (use --name flag)")
			}
			files, err := GenerateEmptyMigration(fsys, flags[outputDirFlag].GetString(), name, now())
			if err != nil {
				return fmt.Errorf("error generating migration files: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Generated migration files:\n")
			fmt.Fprintf(out, "  UP:   %s\n", files.UpFile)
			fmt.Fprintf(out, "  DOWN: %s\n", files.DownFile)
			fmt.Fprintf(out, "  Version: %d\n", files.Version)
			return nil
		},
	}

	cobraflags.RegisterMap(migrationCmd, flags)
	return migrationCmd
}

// MigrationFiles describes a generated up/down pair
type MigrationFiles struct {
	UpFile   string
	DownFile string
	Version  int
}

const upTemplate = `{
  "create": {
    "name": %s,
    "type": "base",
    "fields": [],
    "indexes": []
  }
}
`

const downTemplate = `{
  "delete": %s
}
`

// GenerateEmptyMigration writes a skeleton up/down pair into dir. The version
// is the UTC timestamp formatted as YYYYMMDDHHMMSS.
func GenerateEmptyMigration(fsys afero.Fs, dir, name string, at time.Time) (*MigrationFiles, error) {
	version, err := strconv.Atoi(at.UTC().Format("20060102150405"))
	if err != nil {
		return nil, err
	}

	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	upName := migrator.GenerateMigrationFileName(version, name, migrator.DirectionUp)
	files := &MigrationFiles{
		UpFile:   filepath.Join(dir, upName),
		DownFile: filepath.Join(dir, migrator.GenerateMigrationFileName(version, name, migrator.DirectionDown)),
		Version:  version,
	}

	for _, path := range []string{files.UpFile, files.DownFile} {
		exists, err := afero.Exists(fsys, path)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("migration file %s already exists", path)
		}
	}

	collection := strconv.Quote(collectionName(upName))
	if err := afero.WriteFile(fsys, files.UpFile, []byte(fmt.Sprintf(upTemplate, collection)), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", files.UpFile, err)
	}
	if err := afero.WriteFile(fsys, files.DownFile, []byte(fmt.Sprintf(downTemplate, collection)), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", files.DownFile, err)
	}
	return files, nil
}

// collectionName returns the placeholder collection name for a generated
// file name: the name part of 20240101120000_reading_progress.up.json
func collectionName(filename string) string {
	_, rest, _ := strings.Cut(filename, "_")
	return strings.TrimSuffix(rest, "."+migrator.DirectionUp+migrator.MigrationFileExt)
}
