package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/opensource-finance/fraudsentry/internal/domain"
)

// sqlitePragmas are applied to every SQLite connection.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
	"foreign_keys(ON)",
}

// open resolves the driver and DSN, then waits for the database to answer.
func open(cfg domain.RepositoryConfig) (*sql.DB, error) {
	var driverName, dsn string

	switch cfg.Driver {
	case "sqlite":
		path, err := prepareSQLitePath(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		driverName, dsn = "sqlite", sqliteDSN(path)
	case "postgres":
		driverName, dsn = "postgres", postgresDSN(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidInput, cfg.Driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	// Postgres may still be starting when the service boots.
	if err := pingWithRetry(db, cfg.ConnectTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.Driver, err)
	}

	return db, nil
}

// prepareSQLitePath defaults the path and creates its directory.
func prepareSQLitePath(path string) (string, error) {
	if path == "" {
		path = "./fraudsentry.db"
	}
	if path == ":memory:" {
		return path, nil
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	return path, nil
}

func sqliteDSN(path string) string {
	var b strings.Builder
	if path == ":memory:" {
		// A shared cache keeps one database across the pool's connections.
		b.WriteString("file::memory:?cache=shared")
	} else {
		b.WriteString("file:")
		b.WriteString(path)
		b.WriteString("?")
	}
	for i, p := range sqlitePragmas {
		if i > 0 || path == ":memory:" {
			b.WriteString("&")
		}
		b.WriteString("_pragma=")
		b.WriteString(p)
	}
	return b.String()
}

// postgresDSN builds a libpq keyword/value connection string.
func postgresDSN(cfg domain.RepositoryConfig) string {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "fraudsentry"
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	pairs := []struct{ key, value string }{
		{"host", host},
		{"port", fmt.Sprint(port)},
		{"user", cfg.PostgresUser},
		{"password", cfg.PostgresPassword},
		{"dbname", dbname},
		{"sslmode", sslmode},
	}

	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p.value == "" {
			continue
		}
		parts = append(parts, p.key+"="+quoteDSNValue(p.value))
	}
	return strings.Join(parts, " ")
}

// quoteDSNValue quotes values containing spaces or quotes, escaping ' and \.
func quoteDSNValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
