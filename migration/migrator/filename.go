package migrator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Migration directions used in file names
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// MigrationFileExt is the extension of collection operation files
const MigrationFileExt = ".json"

var (
	migrationFileRe = regexp.MustCompile(`^(\d+)_([A-Za-z0-9_]+)\.(up|down)\.json$`)
	nonWordRe       = regexp.MustCompile(`[^a-z0-9]+`)
)

// MigrationFile is the parsed name of a migration file
type MigrationFile struct {
	Version   int
	Name      string // human readable, "create_users" becomes "Create Users"
	Direction string
}

// ParseMigrationFileName parses a file name of the form
// NNNNNNNNNN_description.up.json or NNNNNNNNNN_description.down.json
func ParseMigrationFileName(filename string) (*MigrationFile, error) {
	m := migrationFileRe.FindStringSubmatch(filename)
	if m == nil {
		return nil, fmt.Errorf("invalid migration filename: %s", filename)
	}

	version, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, fmt.Errorf("invalid version in migration filename %s: %w", filename, err)
	}

	return &MigrationFile{
		Version:   version,
		Name:      cases.Title(language.English).String(strings.ReplaceAll(m[2], "_", " ")),
		Direction: m[3],
	}, nil
}

// GenerateMigrationFileName builds the file name for a migration in the given
// direction, e.g. 0000000002_add_notes.up.json
func GenerateMigrationFileName(version int, description, direction string) string {
	slug := strings.Trim(nonWordRe.ReplaceAllString(strings.ToLower(description), "_"), "_")
	return fmt.Sprintf("%010d_%s.%s%s", version, slug, direction, MigrationFileExt)
}
