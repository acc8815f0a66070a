package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListQueue_FIFO(t *testing.T) {
	cli := requireRedis(t)
	q := NewListQueue("list-fifo", cli, nil)
	_, err := q.Clear(dummyCtx)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Put(dummyCtx, map[string]interface{}{"n": int64(i), "raw": []byte{byte(i)}}))
	}
	size, err := q.Size(dummyCtx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, size)

	for i := 0; i < 3; i++ {
		item, err := q.Get(dummyCtx)
		require.NoError(t, err)
		require.NotNil(t, item)
		payload := item.Payload.(map[string]interface{})
		assert.Equal(t, int64(i), payload["n"])
		assert.Equal(t, []byte{byte(i)}, payload["raw"])
	}
	item, err := q.Get(dummyCtx)
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestListQueue_DecodeError(t *testing.T) {
	cli := requireRedis(t)
	require.NoError(t, cli.RPush(dummyCtx, "list-garbage", "not json").Err())
	q := NewListQueue("list-garbage", cli, nil)
	_, err := q.Get(dummyCtx)
	assert.Error(t, err)
}
