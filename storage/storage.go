package storage

import (
	"context"
	"errors"

	"github.com/bitleak/bert/storage/model"
)

const DefaultTableName = "bert_rows"

var ErrNotFound = errors.New("row not found")

// Storage is the scan-capable table the table queue, the execution lock and
// the table cache are built on. Scanning and deleting are separate calls, so
// a consumer must treat a false Delete as a lost race.
type Storage interface {
	// Insert writes the row, replacing any row with the same identity
	Insert(ctx context.Context, row *model.Row) error
	// ScanOne returns an arbitrary row of the table or ErrNotFound when it is empty
	ScanOne(ctx context.Context, tableName string) (*model.Row, error)
	// Scan returns rows matching the request ordered by identity
	Scan(ctx context.Context, req *model.ScanReq) ([]*model.Row, error)
	// Delete removes the row and reports whether it was still there
	Delete(ctx context.Context, tableName, identity string) (bool, error)
	// Count returns the number of rows in the table
	Count(ctx context.Context, tableName string) (int64, error)
	// Clear removes every row in the table and returns how many were removed
	Clear(ctx context.Context, tableName string) (int64, error)
	Close()
}
