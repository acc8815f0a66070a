package runner

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/bitleak/bert/cache"
	"github.com/bitleak/bert/chain"
	"github.com/bitleak/bert/codec"
	"github.com/bitleak/bert/config"
	"github.com/bitleak/bert/queue"
	"github.com/bitleak/bert/reporting"
	"github.com/bitleak/bert/storage/memory"
	"github.com/bitleak/bert/storage/model"
)

func testConfig() *config.Config {
	conf := config.Default()
	conf.QueueType = config.QueueLocal
	conf.PollIntervalMS = 5
	conf.RecheckDelayMS = 5
	conf.PulseIntervalSecond = 0
	conf.MaxRetries = 3
	conf.Jobs = map[string]config.JobConf{}
	return conf
}

type harness struct {
	conf    *config.Config
	factory *queue.Factory
	store   *memory.Store
	lock    *memory.Store
	tracker *reporting.Tracker
}

func newHarness(t *testing.T, kind queue.Kind) *harness {
	store := memory.New()
	opts := []queue.FactoryOption{}
	if kind == queue.KindTable || kind == queue.KindStreaming {
		opts = append(opts, queue.WithStorage(store))
	}
	factory, err := queue.NewFactory(kind, opts...)
	require.NoError(t, err)
	conf := testConfig()
	conf.QueueType = string(kind)
	lock := memory.New()
	return &harness{
		conf:    conf,
		factory: factory,
		store:   store,
		lock:    lock,
		tracker: reporting.NewTracker(lock, reporting.WithPolling(20*time.Millisecond, 5*time.Millisecond)),
	}
}

func (h *harness) runner(opts ...Option) *Runner {
	return New(h.conf, h.factory, codec.NewRegistry(), h.tracker, opts...)
}

func (h *harness) fill(t *testing.T, key string, n int) {
	q := h.factory.New(key, codec.Default())
	for i := 0; i < n; i++ {
		require.NoError(t, q.Put(context.Background(), map[string]interface{}{"n": i}))
	}
}

func (h *harness) drain(t *testing.T, key string) []interface{} {
	var payloads []interface{}
	it := queue.NewIterator(h.factory.New(key, codec.Default()))
	for it.Next(context.Background()) {
		payloads = append(payloads, it.Item().Payload)
	}
	require.NoError(t, it.Err())
	return payloads
}

// forward moves every work item to the done queue, tagged with stage.
func forward(stage string, calls *atomic.Int32) chain.Func {
	return func(ctx context.Context, b *chain.Binding) error {
		if calls != nil {
			calls.Inc()
		}
		it := queue.NewIterator(b.Work)
		for it.Next(ctx) {
			p := it.Item().Payload.(map[string]interface{})
			if err := b.Done.Put(ctx, map[string]interface{}{"n": p["n"], "stage": stage}); err != nil {
				return err
			}
		}
		return it.Err()
	}
}

func TestRunJobs_Pipeline(t *testing.T) {
	h := newHarness(t, queue.KindLocal)
	reg := chain.NewRegistry()
	a := reg.MustBind(nil, "a", forward("a", nil), chain.WithPipelineType(chain.Concurrent), chain.WithWorkers(2))
	b := reg.MustBind(a, "b", forward("b", nil))
	jobs, err := reg.BuildChain()
	require.NoError(t, err)

	h.fill(t, a.WorkKey(), 100)
	require.NoError(t, h.runner().RunJobs(context.Background(), jobs))

	seen := make(map[interface{}]bool)
	for _, payload := range h.drain(t, b.DoneKey()) {
		p := payload.(map[string]interface{})
		assert.Equal(t, "b", p["stage"])
		assert.False(t, seen[p["n"]], "duplicate %v", p["n"])
		seen[p["n"]] = true
	}
	assert.Len(t, seen, 100)
	assert.Empty(t, h.drain(t, a.DoneKey()))
}

var errBody = errors.New("body failed")

func TestRunJobs_RetriesExhausted(t *testing.T) {
	h := newHarness(t, queue.KindLocal)
	reg := chain.NewRegistry()
	calls := atomic.NewInt32(0)
	next := atomic.NewInt32(0)
	a := reg.MustBind(nil, "a", func(context.Context, *chain.Binding) error {
		calls.Inc()
		return errBody
	}, chain.WithPipelineType(chain.Concurrent), chain.WithWorkers(1))
	reg.MustBind(a, "b", forward("b", next))
	jobs, err := reg.BuildChain()
	require.NoError(t, err)

	require.NoError(t, h.runner().RunJobs(context.Background(), jobs))
	assert.EqualValues(t, 3, calls.Load())
	assert.EqualValues(t, 1, next.Load())
}

func TestRunJobs_Strict(t *testing.T) {
	h := newHarness(t, queue.KindLocal)
	h.conf.LogErrorOnly = false
	reg := chain.NewRegistry()
	calls := atomic.NewInt32(0)
	next := atomic.NewInt32(0)
	a := reg.MustBind(nil, "a", func(context.Context, *chain.Binding) error {
		calls.Inc()
		return errBody
	}, chain.WithPipelineType(chain.Concurrent), chain.WithWorkers(1))
	reg.MustBind(a, "b", forward("b", next))
	jobs, err := reg.BuildChain()
	require.NoError(t, err)

	err = h.runner().RunJobs(context.Background(), jobs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errBody))
	assert.EqualValues(t, 1, calls.Load())
	assert.EqualValues(t, 0, next.Load())
}

func TestRunJobs_BottlePanic(t *testing.T) {
	h := newHarness(t, queue.KindLocal)
	h.conf.LogErrorOnly = false
	reg := chain.NewRegistry()
	reg.MustBind(nil, "a", func(context.Context, *chain.Binding) error {
		panic("boom")
	})
	jobs, err := reg.BuildChain()
	require.NoError(t, err)

	err = h.runner().RunJobs(context.Background(), jobs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic: boom")

	// the execution record is released even though the body panicked
	count, err := h.lock.Count(context.Background(), reporting.TableName)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRunJobs_SkipUnsafeBottle(t *testing.T) {
	h := newHarness(t, queue.KindLocal)
	lock := h.lock
	reg := chain.NewRegistry()
	calls := atomic.NewInt32(0)
	a := reg.MustBind(nil, "a", forward("a", nil))
	b := reg.MustBind(a, "b", forward("b", calls))

	require.NoError(t, lock.Insert(context.Background(), &model.Row{
		TableName:   reporting.TableName,
		Identity:    "still-running",
		Name:        a.Name(),
		CreatedTime: time.Now().Unix(),
	}))
	require.NoError(t, h.runner().RunJobs(context.Background(), []*chain.Job{b}))
	assert.EqualValues(t, 0, calls.Load())

	_, err := lock.Delete(context.Background(), reporting.TableName, "still-running")
	require.NoError(t, err)
	require.NoError(t, h.runner().RunJobs(context.Background(), []*chain.Job{b}))
	assert.EqualValues(t, 1, calls.Load())
}

func TestRunJobs_Environment(t *testing.T) {
	const key = "BERT_RUNNER_TEST_STAGE"
	os.Unsetenv(key)
	h := newHarness(t, queue.KindLocal)
	h.conf.EveryJob.Environment = map[string]interface{}{key: "every"}
	h.conf.Jobs["b"] = config.JobConf{Environment: map[string]interface{}{key: "b"}}

	var mu sync.Mutex
	seen := map[string]string{}
	record := func(name string) chain.Func {
		return func(context.Context, *chain.Binding) error {
			mu.Lock()
			defer mu.Unlock()
			seen[name] = os.Getenv(key)
			return nil
		}
	}
	reg := chain.NewRegistry()
	a := reg.MustBind(nil, "a", record("a"))
	reg.MustBind(a, "b", record("b"))
	jobs, err := reg.BuildChain()
	require.NoError(t, err)

	require.NoError(t, h.runner().RunJobs(context.Background(), jobs))
	assert.Equal(t, map[string]string{"a": "every", "b": "b"}, seen)
	_, ok := os.LookupEnv(key)
	assert.False(t, ok)
}

func TestRunJobs_InvokeArgs(t *testing.T) {
	h := newHarness(t, queue.KindLocal)
	h.conf.Jobs["a"] = config.JobConf{InvokeArgs: []map[string]interface{}{{"n": 1}, {"n": 2}}}
	reg := chain.NewRegistry()
	a := reg.MustBind(nil, "a", forward("a", nil))
	jobs, err := reg.BuildChain()
	require.NoError(t, err)

	require.NoError(t, h.runner().RunJobs(context.Background(), jobs))
	assert.Len(t, h.drain(t, a.DoneKey()), 2)
}

func TestRunJobs_AbortBeforeRunning(t *testing.T) {
	h := newHarness(t, queue.KindLocal)
	reg := chain.NewRegistry()
	calls := atomic.NewInt32(0)
	a := reg.MustBind(nil, "a", forward("a", calls))
	reg.MustBind(a, "b", forward("b", calls))
	jobs, err := reg.BuildChain()
	require.NoError(t, err)

	h.conf.Jobs["b"] = config.JobConf{Encoding: codec.Names{Handlers: []string{"missing"}}}
	err = h.runner().RunJobs(context.Background(), jobs)
	var loadErr *codec.LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, "missing", loadErr.Name)

	h.conf.Jobs["b"] = config.JobConf{ExecutionRole: "arn:aws:iam::1:role/etl"}
	err = h.runner().RunJobs(context.Background(), jobs)
	var confErr *config.ConfigError
	require.True(t, errors.As(err, &confErr))
	assert.Equal(t, "b", confErr.Job)

	assert.EqualValues(t, 0, calls.Load())
}

type fakeRoles struct {
	mu       sync.Mutex
	assumed  []string
	released int
}

func (f *fakeRoles) Assume(_ context.Context, role string) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assumed = append(f.assumed, role)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.released++
	}, nil
}

func TestRunJobs_ExecutionRole(t *testing.T) {
	h := newHarness(t, queue.KindLocal)
	h.conf.Jobs["a"] = config.JobConf{ExecutionRole: "arn:aws:iam::1:role/etl"}
	reg := chain.NewRegistry()
	reg.MustBind(nil, "a", forward("a", nil))
	jobs, err := reg.BuildChain()
	require.NoError(t, err)

	roles := &fakeRoles{}
	require.NoError(t, h.runner(WithRoleAssumer(roles)).RunJobs(context.Background(), jobs))
	assert.Equal(t, []string{"arn:aws:iam::1:role/etl"}, roles.assumed)
	assert.Equal(t, 1, roles.released)
}

func TestRunJobs_Schema(t *testing.T) {
	h := newHarness(t, queue.KindLocal)
	h.conf.LogErrorOnly = false
	reg := chain.NewRegistry()
	a := reg.MustBind(nil, "a", forward("a", nil), chain.WithSchema(chain.RequiredFields{"id"}))
	jobs, err := reg.BuildChain()
	require.NoError(t, err)

	h.fill(t, a.WorkKey(), 1)
	err = h.runner().RunJobs(context.Background(), jobs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")
	assert.Empty(t, h.drain(t, a.DoneKey()))
}

func TestRunJobs_Stopped(t *testing.T) {
	h := newHarness(t, queue.KindLocal)
	reg := chain.NewRegistry()
	calls := atomic.NewInt32(0)
	reg.MustBind(nil, "a", forward("a", calls))
	jobs, err := reg.BuildChain()
	require.NoError(t, err)

	r := h.runner()
	r.Stop()
	assert.True(t, r.Stopped())
	require.NoError(t, r.RunJobs(context.Background(), jobs))
	assert.EqualValues(t, 0, calls.Load())
}

func TestRunJobs_JobCache(t *testing.T) {
	h := newHarness(t, queue.KindTable)
	backend := cache.NewTableBackend(h.store)
	reg := chain.NewRegistry()
	aCalls := atomic.NewInt32(0)
	bCalls := atomic.NewInt32(0)
	a := reg.MustBind(nil, "a", forward("a", aCalls), chain.WithCache())
	b := reg.MustBind(a, "b", forward("b", bCalls))
	jobs, err := reg.BuildChain()
	require.NoError(t, err)
	ctx := context.Background()

	h.fill(t, a.WorkKey(), 5)
	h.conf.Cache = config.CacheConf{Enable: true, StopAfterJob: "a"}
	require.NoError(t, h.runner(WithCacheBackend(backend)).RunJobs(ctx, jobs))
	assert.EqualValues(t, 1, aCalls.Load())
	assert.EqualValues(t, 0, bCalls.Load())
	cached, err := backend.CacheSize(ctx, a.DoneKey())
	require.NoError(t, err)
	assert.EqualValues(t, 5, cached)

	require.NoError(t, backend.ClearQueue(ctx, a.DoneKey()))
	h.conf.Cache = config.CacheConf{Enable: true, StartBeforeJob: "b"}
	require.NoError(t, h.runner(WithCacheBackend(backend)).RunJobs(ctx, jobs))
	assert.EqualValues(t, 1, aCalls.Load())
	assert.EqualValues(t, 1, bCalls.Load())
	assert.Len(t, h.drain(t, b.DoneKey()), 5)
}

func TestRunJobs_CacheValidation(t *testing.T) {
	h := newHarness(t, queue.KindTable)
	backend := cache.NewTableBackend(h.store)
	reg := chain.NewRegistry()
	a := reg.MustBind(nil, "a", forward("a", nil))
	reg.MustBind(a, "b", forward("b", nil))
	jobs, err := reg.BuildChain()
	require.NoError(t, err)

	cases := []struct {
		cache   config.CacheConf
		backend cache.Backend
	}{
		{config.CacheConf{Enable: true}, nil},
		{config.CacheConf{Enable: true, StartBeforeJob: "a"}, backend},
		{config.CacheConf{Enable: true, StartBeforeJob: "b"}, backend},
		{config.CacheConf{Enable: true, StopAfterJob: "a"}, backend},
		{config.CacheConf{Enable: true, StopAfterJob: "missing"}, backend},
	}
	for _, c := range cases {
		h.conf.Cache = c.cache
		err := h.runner(WithCacheBackend(c.backend)).RunJobs(context.Background(), jobs)
		var confErr *config.ConfigError
		assert.True(t, errors.As(err, &confErr), "%+v: %v", c.cache, err)
	}
}

func TestBindQueues(t *testing.T) {
	h := newHarness(t, queue.KindLocal)
	reg := chain.NewRegistry()
	a := reg.MustBind(nil, "a", forward("a", nil))
	b, err := h.runner().BindQueues(a, nil)
	require.NoError(t, err)
	assert.Equal(t, a.WorkKey(), b.Work.Key())
	assert.Equal(t, a.DoneKey(), b.Done.Key())
	assert.NotNil(t, b.Logger)

	h.conf.Jobs["a"] = config.JobConf{Encoding: codec.Names{IdentityEncoders: []string{"missing"}}}
	_, err = h.runner().BindQueues(a, nil)
	assert.Error(t, err)
}
