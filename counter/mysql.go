package counter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQL error numbers treated as capacity problems
const (
	mysqlTooManyConnections = 1040
	mysqlLockWaitTimeout    = 1205
	mysqlDeadlock           = 1213
)

// MySQLStore keeps one row per key. Increment uses
// ON DUPLICATE KEY UPDATE with LAST_INSERT_ID(expr) so the new value comes
// back in the same statement.
type MySQLStore struct {
	db    *sql.DB
	table string

	incrementSQL string
	getSQL       string
	listSQL      string
}

// NewMySQLStore wraps an existing handle
func NewMySQLStore(db *sql.DB, table string) (*MySQLStore, error) {
	table, err := validTable(table)
	if err != nil {
		return nil, err
	}
	t := "`" + table + "`"
	return &MySQLStore{
		db:           db,
		table:        t,
		incrementSQL: `INSERT INTO ` + t + ` (path, hits) VALUES (?, 1) ON DUPLICATE KEY UPDATE hits = LAST_INSERT_ID(hits + 1)`,
		getSQL:       `SELECT hits FROM ` + t + ` WHERE path = ?`,
		listSQL:      `SELECT path, hits FROM ` + t + ` ORDER BY path`,
	}, nil
}

// OpenMySQL opens a connection pool from a DSN and verifies the connection
func OpenMySQL(ctx context.Context, dsn, table string) (*MySQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	s, err := NewMySQLStore(db, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the counter table if it does not exist
func (s *MySQLStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
		path VARCHAR(512) NOT NULL PRIMARY KEY,
		hits BIGINT UNSIGNED NOT NULL DEFAULT 0
	)`)
	if err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

func (s *MySQLStore) Increment(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}
	res, err := s.db.ExecContext(ctx, s.incrementSQL, key)
	if err != nil {
		return 0, classifyMySQL("increment", key, err)
	}
	n, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("mysql increment %q: %w", key, err)
	}
	// A fresh insert leaves LAST_INSERT_ID untouched (no auto increment column).
	if n == 0 {
		n = 1
	}
	return n, nil
}

func (s *MySQLStore) Get(ctx context.Context, key string) (int64, bool, error) {
	if key == "" {
		return 0, false, ErrEmptyKey
	}
	var n int64
	err := s.db.QueryRowContext(ctx, s.getSQL, key).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, classifyMySQL("get", key, err)
	}
	return n, true, nil
}

func (s *MySQLStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, s.listSQL)
	if err != nil {
		return nil, classifyMySQL("list", "", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Key, &r.Count); err != nil {
			return nil, fmt.Errorf("scan counter row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyMySQL("list", "", err)
	}
	return records, nil
}

// Close releases the pool
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func classifyMySQL(op, key string, err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlTooManyConnections, mysqlLockWaitTimeout, mysqlDeadlock:
			return throttled(op, key, err)
		default:
			return fmt.Errorf("mysql %s %q: %w", op, key, err)
		}
	}
	// driver.ErrBadConn, mysql.ErrInvalidConn and network errors
	return unavailable(op, key, err)
}
