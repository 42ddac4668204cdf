package types

// DBInfo contains connection and metadata information
type DBInfo struct {
	Dialect string `json:"dialect"` // postgres, mysql, mariadb
	Driver  string `json:"driver"`  // database/sql driver name
	Schema  string `json:"schema"`  // database name
	URL     string `json:"url"`     // database connection URL with the password masked
}
