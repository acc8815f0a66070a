package spanner

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/spanner"

	"github.com/bitleak/bert/storage"
	"github.com/bitleak/bert/storage/conf"
	"github.com/bitleak/bert/storage/model"
)

const columns = "table_name, identity, name, datum, created_time"

type SpannerStore struct {
	cli       *spanner.Client
	tableName string
}

func NewSpannerStore(client *spanner.Client, tableName string) *SpannerStore {
	if tableName == "" {
		tableName = storage.DefaultTableName
	}
	return &SpannerStore{
		cli:       client,
		tableName: tableName,
	}
}

// NewFromConfig dials the database described by the config.
func NewFromConfig(ctx context.Context, cfg *conf.SpannerConfig) (*SpannerStore, error) {
	cli, err := CreateSpannerClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create spanner client: %w", err)
	}
	return NewSpannerStore(cli, cfg.TableName), nil
}

// Insert writes the row, replacing a row with the same identity
func (mgr *SpannerStore) Insert(ctx context.Context, row *model.Row) error {
	_, err := mgr.cli.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		mut, err := spanner.InsertOrUpdateStruct(mgr.tableName, row)
		if err != nil {
			return err
		}
		return txn.BufferWrite([]*spanner.Mutation{mut})
	})
	return err
}

func (mgr *SpannerStore) query(ctx context.Context, stmt spanner.Statement) ([]*model.Row, error) {
	rows := make([]*model.Row, 0)
	iter := mgr.cli.Single().Query(ctx, stmt)
	err := iter.Do(func(r *spanner.Row) error {
		elem := &model.Row{}
		if err := r.ToStruct(elem); err != nil {
			return err
		}
		rows = append(rows, elem)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (mgr *SpannerStore) ScanOne(ctx context.Context, tableName string) (*model.Row, error) {
	rows, err := mgr.query(ctx, spanner.Statement{
		SQL: fmt.Sprintf("SELECT %s FROM %s WHERE table_name = @table LIMIT 1", columns, mgr.tableName),
		Params: map[string]interface{}{
			"table": tableName,
		},
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, storage.ErrNotFound
	}
	return rows[0], nil
}

func (mgr *SpannerStore) Scan(ctx context.Context, req *model.ScanReq) ([]*model.Row, error) {
	var sql strings.Builder
	params := map[string]interface{}{
		"table": req.TableName,
		"after": req.After,
	}
	fmt.Fprintf(&sql, "SELECT %s FROM %s WHERE table_name = @table AND identity > @after", columns, mgr.tableName)
	if len(req.Names) > 0 {
		sql.WriteString(" AND name IN UNNEST(@names)")
		params["names"] = req.Names
	}
	if req.CreatedBefore > 0 {
		sql.WriteString(" AND created_time < @before")
		params["before"] = req.CreatedBefore
	}
	sql.WriteString(" ORDER BY identity")
	if req.Limit > 0 {
		sql.WriteString(" LIMIT @limit")
		params["limit"] = req.Limit
	}
	return mgr.query(ctx, spanner.Statement{SQL: sql.String(), Params: params})
}

func (mgr *SpannerStore) update(ctx context.Context, stmt spanner.Statement) (count int64, err error) {
	_, err = mgr.cli.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		count, err = txn.Update(ctx, stmt)
		return err
	})
	return count, err
}

// Delete removes the row, the returned flag is false if it was already gone
func (mgr *SpannerStore) Delete(ctx context.Context, tableName, identity string) (bool, error) {
	count, err := mgr.update(ctx, spanner.Statement{
		SQL: fmt.Sprintf("DELETE FROM %s WHERE table_name = @table AND identity = @identity", mgr.tableName),
		Params: map[string]interface{}{
			"table":    tableName,
			"identity": identity,
		},
	})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (mgr *SpannerStore) Count(ctx context.Context, tableName string) (int64, error) {
	var count int64
	iter := mgr.cli.Single().Query(ctx, spanner.Statement{
		SQL: fmt.Sprintf("SELECT COUNT(*) AS cnt FROM %s WHERE table_name = @table", mgr.tableName),
		Params: map[string]interface{}{
			"table": tableName,
		},
	})
	err := iter.Do(func(r *spanner.Row) error { return r.ColumnByName("cnt", &count) })
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (mgr *SpannerStore) Clear(ctx context.Context, tableName string) (int64, error) {
	return mgr.update(ctx, spanner.Statement{
		SQL: fmt.Sprintf("DELETE FROM %s WHERE table_name = @table", mgr.tableName),
		Params: map[string]interface{}{
			"table": tableName,
		},
	})
}

func (mgr *SpannerStore) Close() {
	mgr.cli.Close()
}

var _ storage.Storage = (*SpannerStore)(nil)
