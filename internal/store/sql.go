package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQL drivers supported by SQLStorage.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const storageTable = "tinkerpen_storage"

// SQLStorage stores the serialized set as a single row keyed by namespace.
type SQLStorage struct {
	db        *sql.DB
	driver    string
	namespace string
}

// OpenSQLStorage connects to the database and ensures the storage table.
func OpenSQLStorage(ctx context.Context, driver, dsn, namespace string) (*SQLStorage, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	if dsn == "" {
		return nil, fmt.Errorf("%s storage: dsn is required", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s storage: failed to open database: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One writer at a time; avoids SQLITE_BUSY between the persister and readers.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s storage: failed to connect: %w", driver, err)
	}

	s := &SQLStorage{db: db, driver: driver, namespace: namespace}

	schema := `CREATE TABLE IF NOT EXISTS ` + storageTable + ` (
		namespace TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s storage: failed to create table: %w", driver, err)
	}
	return s, nil
}

func (s *SQLStorage) ReadAll(ctx context.Context) ([]byte, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT data FROM `+storageTable+` WHERE namespace = ?`), s.namespace).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(data), true, nil
}

func (s *SQLStorage) WriteAll(ctx context.Context, data []byte) error {
	query := s.rebind(`INSERT INTO ` + storageTable + ` (namespace, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (namespace) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`)
	_, err := s.db.ExecContext(ctx, query, s.namespace, string(data), time.Now().UTC())
	return err
}

func (s *SQLStorage) Name() string { return s.driver }

func (s *SQLStorage) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStorage) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
