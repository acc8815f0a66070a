package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitleak/bert/storage"
	"github.com/bitleak/bert/storage/model"
)

var ctx = context.Background()

func TestStore_InsertScanDelete(t *testing.T) {
	s := New()
	_, err := s.ScanOne(ctx, "t1")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Insert(ctx, &model.Row{
			TableName:   "t1",
			Identity:    fmt.Sprintf("id-%d", i),
			Name:        fmt.Sprintf("job-%d", i%2),
			Datum:       []byte("x"),
			CreatedTime: int64(100 + i),
		}))
	}
	require.NoError(t, s.Insert(ctx, &model.Row{TableName: "t2", Identity: "id-0"}))

	count, err := s.Count(ctx, "t1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	row, err := s.ScanOne(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "id-0", row.Identity)

	deleted, err := s.Delete(ctx, "t1", "id-0")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.Delete(ctx, "t1", "id-0")
	require.NoError(t, err)
	assert.False(t, deleted)

	count, _ = s.Count(ctx, "t2")
	assert.EqualValues(t, 1, count)
}

func TestStore_Scan(t *testing.T) {
	s := New()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Insert(ctx, &model.Row{
			TableName:   "t",
			Identity:    fmt.Sprintf("id-%d", i),
			Name:        fmt.Sprintf("job-%d", i%2),
			CreatedTime: int64(100 + i),
		}))
	}

	rows, err := s.Scan(ctx, &model.ScanReq{TableName: "t", Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "id-1", rows[1].Identity)

	rows, err = s.Scan(ctx, &model.ScanReq{TableName: "t", After: "id-1"})
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	rows, err = s.Scan(ctx, &model.ScanReq{TableName: "t", Names: []string{"job-1"}})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = s.Scan(ctx, &model.ScanReq{TableName: "t", CreatedBefore: 102})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	cleared, err := s.Clear(ctx, "t")
	require.NoError(t, err)
	assert.EqualValues(t, 5, cleared)
	count, _ := s.Count(ctx, "t")
	assert.Zero(t, count)
}

func TestStore_CopiesRows(t *testing.T) {
	s := New()
	row := &model.Row{TableName: "t", Identity: "a", Datum: []byte("abc")}
	require.NoError(t, s.Insert(ctx, row))
	row.Datum[0] = 'z'

	got, err := s.ScanOne(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got.Datum)
}
