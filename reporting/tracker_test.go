package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitleak/bert/chain"
	"github.com/bitleak/bert/storage/memory"
	"github.com/bitleak/bert/storage/model"
	"github.com/bitleak/bert/uuid"
)

var dummyCtx = context.TODO()

func noop(context.Context, *chain.Binding) error { return nil }

func newChain(t *testing.T) (*chain.Job, *chain.Job) {
	r := chain.NewRegistry()
	extract := r.MustBind(nil, "extract", noop)
	load := r.MustBind(extract, "load", noop)
	return extract, load
}

func TestTracker_TrackExecution(t *testing.T) {
	store := memory.New()
	tracker := NewTracker(store, WithPolling(50*time.Millisecond, 10*time.Millisecond))
	extract, load := newChain(t)

	err := tracker.TrackExecution(dummyCtx, extract, func(ctx context.Context) error {
		count, err := store.Count(ctx, TableName)
		require.NoError(t, err)
		assert.EqualValues(t, 1, count)
		assert.False(t, tracker.IsSafe(ctx, extract), "the job itself is running")
		assert.False(t, tracker.IsSafe(ctx, load), "the parent is running")
		return nil
	})
	require.NoError(t, err)

	count, err := store.Count(dummyCtx, TableName)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.True(t, tracker.IsSafe(dummyCtx, extract))
	assert.True(t, tracker.IsSafe(dummyCtx, load))
}

func TestTracker_ReleasesOnErrorAndPanic(t *testing.T) {
	store := memory.New()
	tracker := NewTracker(store)
	extract, _ := newChain(t)

	boom := errors.New("boom")
	err := tracker.TrackExecution(dummyCtx, extract, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	assert.Panics(t, func() {
		_ = tracker.TrackExecution(dummyCtx, extract, func(context.Context) error { panic("boom") })
	})
	count, _ := store.Count(dummyCtx, TableName)
	assert.Zero(t, count)
}

func TestTracker_IsSafeWaitsForRecords(t *testing.T) {
	store := memory.New()
	tracker := NewTracker(store, WithPolling(time.Second, 10*time.Millisecond))
	extract, _ := newChain(t)
	require.NoError(t, store.Insert(dummyCtx, &model.Row{TableName: TableName, Identity: "x", Name: "extract"}))

	go func() {
		time.Sleep(50 * time.Millisecond)
		store.Delete(dummyCtx, TableName, "x")
	}()
	start := time.Now()
	assert.True(t, tracker.IsSafe(dummyCtx, extract), "the record disappears inside the window")
	assert.Less(t, time.Since(start), time.Second)
}

type brokenStore struct {
	*memory.Store
}

func (brokenStore) Scan(context.Context, *model.ScanReq) ([]*model.Row, error) {
	return nil, errors.New("unavailable")
}

func TestTracker_StoreFailureIsUnsafe(t *testing.T) {
	tracker := NewTracker(brokenStore{memory.New()})
	extract, _ := newChain(t)
	assert.False(t, tracker.IsSafe(dummyCtx, extract))
}

func TestTracker_ScanStalled(t *testing.T) {
	store := memory.New()
	now := time.Now()
	tracker := NewTracker(store)
	tracker.now = func() time.Time { return now }

	require.NoError(t, store.Insert(dummyCtx, &model.Row{
		TableName: TableName, Identity: "old", Name: "extract", CreatedTime: now.Add(-time.Hour).Unix(),
	}))
	require.NoError(t, store.Insert(dummyCtx, &model.Row{
		TableName: TableName, Identity: "fresh", Name: "load", CreatedTime: now.Unix(),
	}))

	stalled, err := tracker.ScanStalled(dummyCtx, 0)
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	assert.Equal(t, "old", stalled[0].Identity)
	assert.Equal(t, "extract", stalled[0].Job)

	released, err := tracker.Release(dummyCtx, "old")
	require.NoError(t, err)
	assert.True(t, released)
	stalled, err = tracker.ScanStalled(dummyCtx, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, stalled)
}

func TestTracker_ScanStalledUsesRecordIdentity(t *testing.T) {
	store := memory.New()
	tracker := NewTracker(store)
	extract, _ := newChain(t)

	err := tracker.TrackExecution(dummyCtx, extract, func(ctx context.Context) error {
		tracker.now = func() time.Time { return time.Now().Add(time.Hour) }
		stalled, err := tracker.ScanStalled(ctx, 30*time.Minute)
		require.NoError(t, err)
		require.Len(t, stalled, 1)

		created, err := uuid.CreatedTime(stalled[0].Identity)
		require.NoError(t, err)
		assert.True(t, created.Equal(stalled[0].CreatedAt))
		assert.WithinDuration(t, time.Now(), stalled[0].CreatedAt, 5*time.Second)
		return nil
	})
	require.NoError(t, err)
}
