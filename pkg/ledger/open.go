package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ConnectTimeout bounds how long Open keeps retrying an unreachable Postgres.
var ConnectTimeout = 30 * time.Second

// Open connects to the configured backend and ensures its schema exists.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverSQLite:
		db, err := sql.Open("sqlite", SQLiteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		// One connection: SQLite serializes writers anyway, and ":memory:"
		// databases are per connection.
		db.SetMaxOpenConns(1)
		return initStore(ctx, db, SQLite)
	case DriverPostgres:
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		// The database may still be starting next to the service.
		_, err = backoff.Retry(ctx, func() (struct{}, error) {
			return struct{}{}, db.PingContext(ctx)
		}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(ConnectTimeout))
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return initStore(ctx, db, Postgres)
	default:
		return nil, fmt.Errorf("ledger: unknown driver %q", driver)
	}
}

func initStore(ctx context.Context, db *sql.DB, d Dialect) (Store, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", d.Name, err)
	}
	s := NewSQLStore(db, d)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SQLiteDSN adds the connection parameters the store relies on: immediate
// write transactions and a busy timeout.
func SQLiteDSN(path string) string {
	if path == "" {
		path = ":memory:"
	}
	var params []string
	if !strings.Contains(path, "_txlock=") {
		params = append(params, "_txlock=immediate")
	}
	if !strings.Contains(path, "busy_timeout") {
		params = append(params, "_pragma=busy_timeout(5000)")
	}
	if len(params) == 0 {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(params, "&")
}
