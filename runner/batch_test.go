package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/bitleak/bert/chain"
	"github.com/bitleak/bert/queue"
	"github.com/bitleak/bert/reporting"
	"github.com/bitleak/bert/storage/model"
)

func TestHandleBatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, queue.KindStreaming)
	reg := chain.NewRegistry()
	calls := atomic.NewInt32(0)
	a := reg.MustBind(nil, "a", forward("a", nil))
	b := reg.MustBind(a, "b", forward("b", calls), chain.WithPipelineType(chain.Concurrent), chain.WithWorkers(4))

	h.fill(t, b.WorkKey(), 3)
	rows, err := h.store.Scan(ctx, &model.ScanReq{TableName: b.WorkKey(), Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// a row the table never saw can only be delivered from memory
	memoryOnly := *rows[0]
	deleted, err := h.store.Delete(ctx, b.WorkKey(), memoryOnly.Identity)
	require.NoError(t, err)
	require.True(t, deleted)
	memoryOnly.Identity = queue.ExternalIdentity
	batch := []*model.Row{&memoryOnly, rows[1], rows[2]}

	require.NoError(t, h.runner().HandleBatch(ctx, b, batch))
	assert.EqualValues(t, 1, calls.Load(), "the body runs once per batch")

	count, err := h.store.Count(ctx, b.WorkKey())
	require.NoError(t, err)
	assert.Zero(t, count, "backing rows are acked")
	records, err := h.lock.Count(ctx, reporting.TableName)
	require.NoError(t, err)
	assert.Zero(t, records)

	var ns []interface{}
	for _, payload := range h.drain(t, b.DoneKey()) {
		p := payload.(map[string]interface{})
		assert.Equal(t, "b", p["stage"])
		ns = append(ns, p["n"])
	}
	assert.ElementsMatch(t, []interface{}{int64(0), int64(1), int64(2)}, ns)
}

func TestHandleBatch_NotStreaming(t *testing.T) {
	h := newHarness(t, queue.KindLocal)
	reg := chain.NewRegistry()
	a := reg.MustBind(nil, "a", forward("a", nil))
	err := h.runner().HandleBatch(context.Background(), a, nil)
	assert.ErrorIs(t, err, ErrNotStreaming)
}

func TestHandleBatch_Strict(t *testing.T) {
	h := newHarness(t, queue.KindStreaming)
	h.conf.LogErrorOnly = false
	reg := chain.NewRegistry()
	a := reg.MustBind(nil, "a", func(context.Context, *chain.Binding) error { return errBody })
	err := h.runner().HandleBatch(context.Background(), a, nil)
	assert.ErrorIs(t, err, errBody)

	h.conf.LogErrorOnly = true
	assert.NoError(t, h.runner().HandleBatch(context.Background(), a, nil))
}
