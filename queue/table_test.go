package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitleak/bert/codec"
	"github.com/bitleak/bert/storage/memory"
	"github.com/bitleak/bert/storage/model"
)

func TestTableQueue_PutGet(t *testing.T) {
	q := NewTableQueue("table-put-get", memory.New(), nil)
	at := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	payload := map[string]interface{}{"a": int64(1), "at": at, "tags": []interface{}{"x"}}
	require.NoError(t, q.Put(dummyCtx, payload))

	size, err := q.Size(dummyCtx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, size)

	item, err := q.Get(dummyCtx)
	require.NoError(t, err)
	require.NotNil(t, item)
	expectedIdentity, err := codec.Identity(payload)
	require.NoError(t, err)
	assert.Equal(t, expectedIdentity, item.Identity)
	got := item.Payload.(map[string]interface{})
	assert.Equal(t, int64(1), got["a"])
	assert.True(t, at.Equal(got["at"].(time.Time)))

	item, err = q.Get(dummyCtx)
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestTableQueue_DeduplicatesByIdentity(t *testing.T) {
	q := NewTableQueue("table-dedup", memory.New(), nil)
	require.NoError(t, q.Put(dummyCtx, map[string]interface{}{"a": 1, "b": "x"}))
	require.NoError(t, q.Put(dummyCtx, map[string]interface{}{"b": "x", "a": int64(1)}))
	require.NoError(t, q.Put(dummyCtx, map[string]interface{}{"a": 2}))
	size, err := q.Size(dummyCtx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, size)

	cleared, err := q.Clear(dummyCtx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, cleared)
}

func TestTableQueue_KeepsNumericKinds(t *testing.T) {
	q := NewTableQueue("table-numeric-kinds", memory.New(), nil)
	require.NoError(t, q.Put(dummyCtx, map[string]interface{}{"v": int64(1)}))
	require.NoError(t, q.Put(dummyCtx, map[string]interface{}{"v": float64(1)}))
	require.NoError(t, q.Put(dummyCtx, map[string]interface{}{"v": []byte("hi")}))
	require.NoError(t, q.Put(dummyCtx, map[string]interface{}{"v": "aGk="}))
	size, err := q.Size(dummyCtx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, size)

	var values []interface{}
	for {
		item, err := q.Get(dummyCtx)
		require.NoError(t, err)
		if item == nil {
			break
		}
		values = append(values, item.Payload.(map[string]interface{})["v"])
	}
	assert.ElementsMatch(t, []interface{}{int64(1), float64(1), []byte("hi"), "aGk="}, values)
}

func TestTableQueue_EncodeError(t *testing.T) {
	q := NewTableQueue("table-encode-error", memory.New(), nil)
	assert.Error(t, q.Put(dummyCtx, struct{ A int }{A: 1}))
}

// barrierStore holds the first two scans until both have read the same row.
type barrierStore struct {
	*memory.Store
	mu      sync.Mutex
	scans   int
	release chan struct{}
}

func (s *barrierStore) ScanOne(ctx context.Context, tableName string) (*model.Row, error) {
	row, err := s.Store.ScanOne(ctx, tableName)
	s.mu.Lock()
	s.scans++
	if s.scans == 2 {
		close(s.release)
	}
	s.mu.Unlock()
	<-s.release
	return row, err
}

func TestTableQueue_RacingConsumers(t *testing.T) {
	store := &barrierStore{Store: memory.New(), release: make(chan struct{})}
	producer := NewTableQueue("table-race", store.Store, nil)
	require.NoError(t, producer.Put(dummyCtx, "only one"))

	var wg sync.WaitGroup
	results := make([]*Item, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item, err := NewTableQueue("table-race", store, nil).Get(dummyCtx)
			assert.NoError(t, err)
			results[i] = item
		}(i)
	}
	wg.Wait()

	got := 0
	for _, item := range results {
		if item != nil {
			got++
			assert.Equal(t, "only one", item.Payload)
		}
	}
	assert.Equal(t, 1, got, "exactly one consumer must win the row")
}

func TestTableQueue_ContextCanceled(t *testing.T) {
	q := NewTableQueue("table-canceled", memory.New(), nil)
	ctx, cancel := context.WithCancel(dummyCtx)
	cancel()
	_, err := q.Get(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
