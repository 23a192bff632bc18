package db

import (
	"fmt"
	"net/url"
	"strings"
)

// Driver picks the database/sql driver for a DSN and returns the source
// string to hand to it. postgres:// and postgresql:// URLs go to pgx;
// sqlite:// URLs, file: URIs, ":memory:" and *.db / *.sqlite paths go to
// SQLite.
func Driver(dsn string) (driver, source string, err error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", "", fmt.Errorf("empty DSN")
	}
	if !strings.Contains(dsn, "://") {
		switch {
		case dsn == ":memory:", strings.HasPrefix(dsn, "file:"),
			strings.HasSuffix(dsn, ".db"), strings.HasSuffix(dsn, ".sqlite"), strings.HasSuffix(dsn, ".sqlite3"):
			return "sqlite", dsn, nil
		}
		return "", "", fmt.Errorf("unsupported DSN %q", dsn)
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", "", err
	}
	switch u.Scheme {
	case "postgres", "postgresql":
		return "pgx", dsn, nil
	case "sqlite", "sqlite3":
		path := u.Host + u.Path
		if path == "" {
			return "", "", fmt.Errorf("sqlite DSN without path: %q", dsn)
		}
		if u.RawQuery != "" {
			path += "?" + u.RawQuery
		}
		return "sqlite", path, nil
	}
	return "", "", fmt.Errorf("unsupported DSN scheme %q", u.Scheme)
}
