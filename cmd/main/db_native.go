//go:build !cgo_sqlite

package main

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

// openDB opens the build history database with the pure Go driver. The
// modernc driver spells connection options as _pragma parameters, so the
// mattn style options used in the default config are translated.
func openDB(dataSource string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", nativeDSN(dataSource))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func nativeDSN(dataSource string) string {
	file, query, ok := strings.Cut(dataSource, "?")
	if !ok {
		return dataSource
	}
	var params []string
	for _, kv := range strings.Split(query, "&") {
		key, value, _ := strings.Cut(kv, "=")
		switch key {
		case "_journal_mode":
			params = append(params, "_pragma=journal_mode("+value+")")
		case "_busy_timeout":
			params = append(params, "_pragma=busy_timeout("+value+")")
		default:
			params = append(params, kv)
		}
	}
	return file + "?" + strings.Join(params, "&")
}
