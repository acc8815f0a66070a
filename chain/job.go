package chain

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bitleak/bert/queue"
)

const (
	// RootName is the sentinel job every chain starts from.
	RootName = "noop"
	// KeyPrefix prefixes every space and queue key.
	KeyPrefix = "bert-etl-"
)

type PipelineType int

const (
	// Bottle jobs run once per cycle, guarded by the execution lock.
	Bottle PipelineType = iota
	// Concurrent jobs run as a pool of workers draining the work queue.
	Concurrent
)

func (p PipelineType) String() string {
	switch p {
	case Bottle:
		return "bottle"
	case Concurrent:
		return "concurrent"
	}
	return "unknown"
}

// Binding is what a job body gets: the queue it reads, the queue it feeds
// and a logger tagged with the job.
type Binding struct {
	Work   queue.Queue
	Done   queue.Queue
	Logger *logrus.Entry
}

type Func func(ctx context.Context, b *Binding) error

// Schema validates payloads a job puts into its done queue.
type Schema interface {
	Validate(payload interface{}) error
}

// Key derives a stable queue or space key from its parts.
func Key(parts ...string) string {
	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	return KeyPrefix + hex.EncodeToString(sum[:])
}

// Job is the immutable descriptor of one step of the chain.
type Job struct {
	name         string
	fn           Func
	parent       *Job
	child        *Job
	pipelineType PipelineType
	workers      int
	schema       Schema
	cached       bool

	space   string
	workKey string
	doneKey string
}

func newJob(parent *Job, name string, fn Func, opts ...Option) *Job {
	j := &Job{
		name:         name,
		fn:           fn,
		parent:       parent,
		pipelineType: Bottle,
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.pipelineType == Bottle {
		j.workers = 1
	} else if j.workers <= 0 {
		j.workers = runtime.NumCPU()
	}
	j.space = Key(name)
	j.doneKey = Key(j.space, "done")
	if parent != nil {
		j.workKey = parent.doneKey
	} else {
		j.workKey = Key(j.space, "work")
	}
	return j
}

func (j *Job) Name() string               { return j.name }
func (j *Job) Func() Func                 { return j.fn }
func (j *Job) Space() string              { return j.space }
func (j *Job) WorkKey() string            { return j.workKey }
func (j *Job) DoneKey() string            { return j.doneKey }
func (j *Job) PipelineType() PipelineType { return j.pipelineType }
func (j *Job) Workers() int               { return j.workers }
func (j *Job) Schema() Schema             { return j.schema }
func (j *Job) Cached() bool               { return j.cached }

// Parent returns the upstream job, nil for the root.
func (j *Job) Parent() *Job { return j.parent }

// Child returns the downstream job, nil for the last job.
func (j *Job) Child() *Job { return j.child }

// IsRoot tells whether the job is the sentinel root.
func (j *Job) IsRoot() bool { return j.parent == nil }

// Parents returns the ancestors without the root, oldest first.
func (j *Job) Parents() []*Job {
	var parents []*Job
	for p := j.parent; p != nil && !p.IsRoot(); p = p.parent {
		parents = append(parents, p)
	}
	for i, k := 0, len(parents)-1; i < k; i, k = i+1, k-1 {
		parents[i], parents[k] = parents[k], parents[i]
	}
	return parents
}

type Option func(*Job)

func WithPipelineType(t PipelineType) Option {
	return func(j *Job) { j.pipelineType = t }
}

// WithWorkers sets the pool size of a concurrent job; bottle jobs always have one worker.
func WithWorkers(n int) Option {
	return func(j *Job) { j.workers = n }
}

func WithSchema(s Schema) Option {
	return func(j *Job) { j.schema = s }
}

// WithCache marks the job's done queue as cacheable.
func WithCache() Option {
	return func(j *Job) { j.cached = true }
}
