// Package cmdutil holds the flags and setup shared by the booksync commands.
package cmdutil

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"

	"github.com/stokaro/booksync/catalog/sqlstore"
	"github.com/stokaro/booksync/config"
	"github.com/stokaro/booksync/dbschema"
	"github.com/stokaro/booksync/filestore"
)

// ErrNoDatabase is returned by Open when no database URL is configured
var ErrNoDatabase = errors.New("database URL is required (use --db-url or BOOKSYNC_DB_URL)")

// ConnectionFlags returns the flags every command talking to the catalog needs
func ConnectionFlags() map[string]cobraflags.Flag {
	return map[string]cobraflags.Flag{
		config.KeyConfigFile: &cobraflags.StringFlag{
			Name:  config.KeyConfigFile,
			Value: "",
			Usage: "Config file (yaml, json or toml)",
		},
		config.KeyDatabaseURL: &cobraflags.StringFlag{
			Name:  config.KeyDatabaseURL,
			Value: "",
			Usage: "Database URL (postgres://... or mysql://...)",
		},
		config.KeyStorageDir: &cobraflags.StringFlag{
			Name:  config.KeyStorageDir,
			Value: "",
			Usage: "Directory holding uploaded record files",
		},
		config.KeyLogLevel: &cobraflags.StringFlag{
			Name:  config.KeyLogLevel,
			Value: "info",
			Usage: "Log level (debug, info, warn, error)",
		},
		config.KeyLogFormat: &cobraflags.StringFlag{
			Name:  config.KeyLogFormat,
			Value: config.LogFormatText,
			Usage: "Log format (text, json)",
		},
	}
}

// LoadConfig resolves the configuration from the command flags, the
// environment and the optional config file
func LoadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := config.NewViper()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	return config.Load(v)
}

// Env is an open catalog with the configuration it was opened with
type Env struct {
	Config *config.Config
	Logger *slog.Logger
	Store  *sqlstore.Store

	conn *dbschema.DatabaseConnection
}

// Open connects to the configured database and prepares the catalog tables
func Open(cmd *cobra.Command) (*Env, error) {
	cfg, err := LoadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, ErrNoDatabase
	}

	logger, err := cfg.Logger(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	conn, err := dbschema.ConnectToDatabaseContext(cmd.Context(), cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	opts := []sqlstore.Option{sqlstore.WithLogger(logger)}
	if cfg.StorageDir != "" {
		opts = append(opts, sqlstore.WithFileStore(filestore.NewOS(cfg.StorageDir)))
	}

	store, err := sqlstore.NewFromConnection(conn, opts...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := store.Initialize(cmd.Context()); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logger.Debug("Connected to database", "url", conn.Info().URL, "dialect", conn.Info().Dialect)
	return &Env{Config: cfg, Logger: logger, Store: store, conn: conn}, nil
}

// Close closes the database connection
func (e *Env) Close() error {
	return e.conn.Close()
}
