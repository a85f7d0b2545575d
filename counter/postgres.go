package counter

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultTable is the SQL table used when none is configured
const DefaultTable = "hits"

var tableNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

func validTable(table string) (string, error) {
	if table == "" {
		return DefaultTable, nil
	}
	if !tableNameRE.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// PostgresStore keeps one row per key and increments it with an upsert.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string

	incrementSQL string
	getSQL       string
	listSQL      string
}

// NewPostgresStore wraps an existing pool
func NewPostgresStore(pool *pgxpool.Pool, table string) (*PostgresStore, error) {
	table, err := validTable(table)
	if err != nil {
		return nil, err
	}
	t := pgx.Identifier{table}.Sanitize()
	return &PostgresStore{
		pool:  pool,
		table: t,
		incrementSQL: `INSERT INTO ` + t + ` (path, hits) VALUES ($1, 1)
			ON CONFLICT (path) DO UPDATE SET hits = ` + t + `.hits + 1
			RETURNING hits`,
		getSQL:  `SELECT hits FROM ` + t + ` WHERE path = $1`,
		listSQL: `SELECT path, hits FROM ` + t + ` ORDER BY path`,
	}, nil
}

// OpenPostgres creates a pool from a database URL and verifies the connection
func OpenPostgres(ctx context.Context, databaseURL, table string) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MaxConns = 20
	poolCfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create DB pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping DB: %w", err)
	}

	s, err := NewPostgresStore(pool, table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the counter table if it does not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
		path TEXT PRIMARY KEY,
		hits BIGINT NOT NULL DEFAULT 0 CHECK (hits >= 0)
	)`)
	if err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

func (s *PostgresStore) Increment(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}
	var n int64
	if err := s.pool.QueryRow(ctx, s.incrementSQL, key).Scan(&n); err != nil {
		return 0, classifyPostgres("increment", key, err)
	}
	return n, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (int64, bool, error) {
	if key == "" {
		return 0, false, ErrEmptyKey
	}
	var n int64
	err := s.pool.QueryRow(ctx, s.getSQL, key).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, classifyPostgres("get", key, err)
	}
	return n, true, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx, s.listSQL)
	if err != nil {
		return nil, classifyPostgres("list", "", err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Record])
	if err != nil {
		return nil, classifyPostgres("list", "", err)
	}
	return records, nil
}

// Close releases the pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// classifyPostgres maps SQLSTATE classes onto store kinds. Class 53 is
// "insufficient resources", class 08 is "connection exception".
func classifyPostgres(op, key string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "53"):
			return throttled(op, key, err)
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "57P03":
			return unavailable(op, key, err)
		case pgErr.Code == "40001", pgErr.Code == "40P01":
			return throttled(op, key, err)
		default:
			return fmt.Errorf("postgres %s %q: %w", op, key, err)
		}
	}
	return unavailable(op, key, err)
}
