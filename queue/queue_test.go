package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItem_Clone(t *testing.T) {
	item := &Item{
		Identity: "abc",
		Payload: map[string]interface{}{
			"list": []interface{}{int64(1), map[string]interface{}{"k": "v"}},
			"raw":  []byte("raw"),
		},
	}
	clone := item.Clone()
	assert.Equal(t, item, clone)

	clone.Payload.(map[string]interface{})["raw"].([]byte)[0] = 'x'
	clone.Payload.(map[string]interface{})["list"].([]interface{})[1].(map[string]interface{})["k"] = "changed"
	assert.Equal(t, []byte("raw"), item.Payload.(map[string]interface{})["raw"])
	assert.Equal(t, "v", item.Payload.(map[string]interface{})["list"].([]interface{})[1].(map[string]interface{})["k"])
}

func TestIterator(t *testing.T) {
	q := NewLocalQueue("iterator", NewLocalBroker())
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Put(dummyCtx, map[string]interface{}{"n": int64(i)}))
	}

	it := NewIterator(q)
	var seen []*Item
	for it.Next(dummyCtx) {
		item := it.Item()
		assert.Equal(t, int64(len(seen)), item.Payload.(map[string]interface{})["n"])
		seen = append(seen, item)
	}
	require.NoError(t, it.Err())
	require.Len(t, seen, 3)
	// every yielded item is destroyed once the iterator moves on
	for _, item := range seen {
		assert.Nil(t, item.Payload)
		assert.Empty(t, item.Identity)
	}
	assert.False(t, it.Next(dummyCtx))
}

type failingQueue struct {
	LocalQueue
}

func (q *failingQueue) Get(_ context.Context) (*Item, error) {
	return nil, errors.New("boom")
}

func TestIterator_Error(t *testing.T) {
	it := NewIterator(&failingQueue{})
	assert.False(t, it.Next(dummyCtx))
	assert.EqualError(t, it.Err(), "boom")
}

func TestLocalQueue(t *testing.T) {
	broker := NewLocalBroker()
	q := NewLocalQueue("local", broker)
	payload := map[string]interface{}{"v": []interface{}{"a"}}
	require.NoError(t, q.Put(dummyCtx, payload))
	require.NoError(t, q.Put(dummyCtx, "second"))
	payload["v"].([]interface{})[0] = "mutated"

	size, err := q.Size(dummyCtx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, size)

	other := NewLocalQueue("local", broker)
	item, err := other.Get(dummyCtx)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"v": []interface{}{"a"}}, item.Payload)
	item, err = q.Get(dummyCtx)
	require.NoError(t, err)
	assert.Equal(t, "second", item.Payload)
	item, err = q.Get(dummyCtx)
	require.NoError(t, err)
	assert.Nil(t, item)

	require.NoError(t, q.Put(dummyCtx, "x"))
	broker.Clear()
	size, _ = q.Size(dummyCtx)
	assert.Zero(t, size)
}
