package schema

import (
	"fmt"
	"regexp"
	"strings"
)

var createIndexRe = regexp.MustCompile(`(?is)^\s*CREATE\s+(UNIQUE\s+)?INDEX\s+(?:IF\s+NOT\s+EXISTS\s+)?([^\s(]+)\s+ON\s+([^\s(]+)\s*\(([^)]*)\)\s*;?\s*$`)

// Index is the parsed form of a collection index definition
type Index struct {
	Name    string
	Unique  bool
	Table   string
	Columns []string
}

// ParseIndex parses a `CREATE [UNIQUE] INDEX name ON table (col, ...)` statement.
// Identifier quotes (double quotes, backticks, brackets) are stripped.
func ParseIndex(sql string) (Index, error) {
	m := createIndexRe.FindStringSubmatch(sql)
	if m == nil {
		return Index{}, fmt.Errorf("invalid index definition: %q", sql)
	}

	idx := Index{
		Unique: m[1] != "",
		Name:   unquoteIdent(m[2]),
		Table:  unquoteIdent(m[3]),
	}

	for _, col := range strings.Split(m[4], ",") {
		col = strings.TrimSpace(col)
		// drop sort order and collation suffixes
		if fields := strings.Fields(col); len(fields) > 0 {
			col = fields[0]
		}
		col = unquoteIdent(col)
		if col == "" {
			return Index{}, fmt.Errorf("invalid index definition %q: empty column", sql)
		}
		idx.Columns = append(idx.Columns, col)
	}

	return idx, nil
}

// String renders the canonical index statement
func (i Index) String() string {
	var sb strings.Builder
	sb.WriteString("CREATE ")
	if i.Unique {
		sb.WriteString("UNIQUE ")
	}
	sb.WriteString("INDEX ")
	sb.WriteString(i.Name)
	sb.WriteString(" ON ")
	sb.WriteString(i.Table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(i.Columns, ", "))
	sb.WriteString(")")
	return sb.String()
}

func unquoteIdent(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		switch {
		case s[0] == '"' && s[len(s)-1] == '"',
			s[0] == '`' && s[len(s)-1] == '`',
			s[0] == '[' && s[len(s)-1] == ']':
			return s[1 : len(s)-1]
		}
	}
	return s
}
