package platform

import (
	"strconv"
	"strings"
)

const (
	Postgres = "postgres"
	MySQL    = "mysql"
	MariaDB  = "mariadb"
)

func NormalizeDialect(dialect string) string {
	switch strings.ToLower(dialect) {
	case "pgx", "postgresql", "postgres":
		return Postgres
	case "mysql":
		return MySQL
	case "mariadb":
		return MariaDB
	default:
		return ""
	}
}

// IsMySQLLike reports whether the dialect speaks the MySQL flavour of SQL
func IsMySQLLike(dialect string) bool {
	return dialect == MySQL || dialect == MariaDB
}

// Placeholder returns the n-th (1-based) bind parameter marker for the dialect
func Placeholder(dialect string, n int) string {
	if dialect == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}
