package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bitleak/bert/storage"
	"github.com/bitleak/bert/storage/model"
)

const columns = "table_name, identity, name, datum, created_time"

type Config struct {
	ConnectionString string
	TableName        string
	MaxConns         int32
	RetryAttempts    int
	RetryInterval    time.Duration
}

type PostgresStore struct {
	pool      *pgxpool.Pool
	tableName string
}

// Connect opens the pool, retrying with a growing interval, and creates the
// row table when it doesn't exist.
func Connect(ctx context.Context, cfg Config) (*PostgresStore, error) {
	connConfig, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		connConfig.MaxConns = cfg.MaxConns
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i) * cfg.RetryInterval):
			}
		}
		pool, err := pgxpool.NewWithConfig(ctx, connConfig)
		if err != nil {
			lastErr = err
			continue
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			lastErr = err
			continue
		}
		store := NewPostgresStore(pool, cfg.TableName)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("connect postgres: %w", lastErr)
}

func NewPostgresStore(pool *pgxpool.Pool, tableName string) *PostgresStore {
	if tableName == "" {
		tableName = storage.DefaultTableName
	}
	return &PostgresStore{pool: pool, tableName: tableName}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		table_name   TEXT NOT NULL,
		identity     TEXT NOT NULL,
		name         TEXT NOT NULL DEFAULT '',
		datum        BYTEA,
		created_time BIGINT NOT NULL,
		PRIMARY KEY (table_name, identity)
	)`, pgx.Identifier{s.tableName}.Sanitize()))
	return err
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.tableName}.Sanitize()
}

func (s *PostgresStore) Insert(ctx context.Context, row *model.Row) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (table_name, identity) DO UPDATE
		SET name = EXCLUDED.name, datum = EXCLUDED.datum, created_time = EXCLUDED.created_time`,
		s.table(), columns),
		row.TableName, row.Identity, row.Name, row.Datum, row.CreatedTime)
	return err
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...interface{}) ([]*model.Row, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	result, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (*model.Row, error) {
		elem := &model.Row{}
		err := r.Scan(&elem.TableName, &elem.Identity, &elem.Name, &elem.Datum, &elem.CreatedTime)
		return elem, err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) ScanOne(ctx context.Context, tableName string) (*model.Row, error) {
	rows, err := s.query(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE table_name = $1 LIMIT 1", columns, s.table()),
		tableName)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, storage.ErrNotFound
	}
	return rows[0], nil
}

func (s *PostgresStore) Scan(ctx context.Context, req *model.ScanReq) ([]*model.Row, error) {
	var sql strings.Builder
	args := []interface{}{req.TableName, req.After}
	fmt.Fprintf(&sql, "SELECT %s FROM %s WHERE table_name = $1 AND identity > $2", columns, s.table())
	if len(req.Names) > 0 {
		args = append(args, req.Names)
		fmt.Fprintf(&sql, " AND name = ANY($%d)", len(args))
	}
	if req.CreatedBefore > 0 {
		args = append(args, req.CreatedBefore)
		fmt.Fprintf(&sql, " AND created_time < $%d", len(args))
	}
	sql.WriteString(" ORDER BY identity")
	if req.Limit > 0 {
		args = append(args, req.Limit)
		fmt.Fprintf(&sql, " LIMIT $%d", len(args))
	}
	return s.query(ctx, sql.String(), args...)
}

func (s *PostgresStore) Delete(ctx context.Context, tableName, identity string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE table_name = $1 AND identity = $2", s.table()),
		tableName, identity)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Count(ctx context.Context, tableName string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE table_name = $1", s.table()),
		tableName).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

func (s *PostgresStore) Clear(ctx context.Context, tableName string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE table_name = $1", s.table()),
		tableName)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

var _ storage.Storage = (*PostgresStore)(nil)
