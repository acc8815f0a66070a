package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/bitleak/bert/storage"
	"github.com/bitleak/bert/storage/model"
)

// Store keeps rows in process memory. Rows are copied on the way in and out.
type Store struct {
	mu     sync.Mutex
	tables map[string]map[string]*model.Row
}

func New() *Store {
	return &Store{tables: make(map[string]map[string]*model.Row)}
}

func copyRow(row *model.Row) *model.Row {
	cp := *row
	cp.Datum = append([]byte(nil), row.Datum...)
	return &cp
}

func (s *Store) Insert(_ context.Context, row *model.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	table, ok := s.tables[row.TableName]
	if !ok {
		table = make(map[string]*model.Row)
		s.tables[row.TableName] = table
	}
	table[row.Identity] = copyRow(row)
	return nil
}

// sortedLocked returns the table's rows ordered by identity; s.mu must be held.
func (s *Store) sortedLocked(tableName string) []*model.Row {
	table := s.tables[tableName]
	rows := make([]*model.Row, 0, len(table))
	for _, row := range table {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Identity < rows[j].Identity })
	return rows
}

func (s *Store) ScanOne(_ context.Context, tableName string) (*model.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.sortedLocked(tableName)
	if len(rows) == 0 {
		return nil, storage.ErrNotFound
	}
	return copyRow(rows[0]), nil
}

func (s *Store) Scan(_ context.Context, req *model.ScanReq) ([]*model.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names map[string]bool
	if len(req.Names) > 0 {
		names = make(map[string]bool, len(req.Names))
		for _, name := range req.Names {
			names[name] = true
		}
	}
	result := make([]*model.Row, 0)
	for _, row := range s.sortedLocked(req.TableName) {
		if req.Limit > 0 && int64(len(result)) >= req.Limit {
			break
		}
		if row.Identity <= req.After {
			continue
		}
		if names != nil && !names[row.Name] {
			continue
		}
		if req.CreatedBefore > 0 && row.CreatedTime >= req.CreatedBefore {
			continue
		}
		result = append(result, copyRow(row))
	}
	return result, nil
}

func (s *Store) Delete(_ context.Context, tableName, identity string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	table := s.tables[tableName]
	if _, ok := table[identity]; !ok {
		return false, nil
	}
	delete(table, identity)
	return true, nil
}

func (s *Store) Count(_ context.Context, tableName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.tables[tableName])), nil
}

func (s *Store) Clear(_ context.Context, tableName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := int64(len(s.tables[tableName]))
	delete(s.tables, tableName)
	return count, nil
}

func (s *Store) Close() {}

var _ storage.Storage = (*Store)(nil)
