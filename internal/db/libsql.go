package db

import (
	"database/sql"

	_ "github.com/tursodatabase/go-libsql"
)

// openLibSQL opens a go-libsql connection. Local paths are given the file:
// scheme; libsql:// and https:// URLs (with an authToken query parameter)
// connect to a remote Turso database.
func openLibSQL(dsn string) (*sql.DB, error) {
	if isLocalPath(dsn) {
		dsn = "file:" + dsn
	}
	return sql.Open("libsql", dsn)
}
