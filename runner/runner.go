package runner

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/bitleak/bert/cache"
	"github.com/bitleak/bert/chain"
	"github.com/bitleak/bert/codec"
	"github.com/bitleak/bert/config"
	"github.com/bitleak/bert/log"
	"github.com/bitleak/bert/queue"
	"github.com/bitleak/bert/reporting"
)

// RoleAssumer scopes a run to an execution role. The returned release func is
// called once the run is over.
type RoleAssumer interface {
	Assume(ctx context.Context, role string) (release func(), err error)
}

// Runner runs a chain of jobs one after the other, each bottle job once and
// each concurrent job as a pool of workers.
type Runner struct {
	conf    *config.Config
	factory *queue.Factory
	codecs  *codec.Registry
	tracker *reporting.Tracker
	cache   cache.Backend
	roles   RoleAssumer
	logger  *logrus.Logger
	stopped *atomic.Bool
}

type Option func(*Runner)

func WithCacheBackend(backend cache.Backend) Option {
	return func(r *Runner) { r.cache = backend }
}

func WithRoleAssumer(roles RoleAssumer) Option {
	return func(r *Runner) { r.roles = roles }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

func New(conf *config.Config, factory *queue.Factory, codecs *codec.Registry, tracker *reporting.Tracker, opts ...Option) *Runner {
	if codecs == nil {
		codecs = codec.NewRegistry()
	}
	r := &Runner{
		conf:    conf,
		factory: factory,
		codecs:  codecs,
		tracker: tracker,
		stopped: atomic.NewBool(false),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.Get()
	}
	return r
}

// Stop asks the runner to finish: no job or iteration starts after it, the
// bodies already running are not interrupted.
func (r *Runner) Stop() {
	if r.stopped.CAS(false, true) {
		r.logger.Info("Stop requested, waiting for the running jobs")
	}
}

func (r *Runner) Stopped() bool {
	return r.stopped.Load()
}

// plan is everything resolved about a job before the first one runs.
type plan struct {
	job        *chain.Job
	settings   config.JobConf
	codec      *codec.Codec
	invokeArgs []map[string]interface{}
	workers    int
	logger     *logrus.Entry
}

func (r *Runner) newPlan(job *chain.Job) (*plan, error) {
	settings := r.conf.JobSettings(job.Name())
	c, err := r.codecs.Load(settings.Encoding)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.Name(), err)
	}
	args, err := settings.LoadInvokeArgs(job.Name())
	if err != nil {
		return nil, err
	}
	if settings.ExecutionRole != "" && r.roles == nil {
		return nil, &config.ConfigError{Job: job.Name(), Field: "execution_role_arn", Reason: "no role assumer is configured"}
	}
	workers := job.Workers()
	if job.PipelineType() == chain.Concurrent && settings.Workers > 0 {
		workers = settings.Workers
	}
	return &plan{
		job:        job,
		settings:   settings,
		codec:      c,
		invokeArgs: args,
		workers:    workers,
		logger:     log.ForJob(r.logger, job.Name(), job.Space()),
	}, nil
}

func (r *Runner) prepare(jobs []*chain.Job) ([]*plan, error) {
	known := make(map[string]bool, len(jobs))
	plans := make([]*plan, 0, len(jobs))
	for _, job := range jobs {
		known[job.Name()] = true
		p, err := r.newPlan(job)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	for name := range r.conf.Jobs {
		if !known[name] {
			r.logger.WithField("job", name).Warn("Config section for a job that isn't in the chain")
		}
	}
	if err := r.validateCache(plans); err != nil {
		return nil, err
	}
	return plans, nil
}

// BindQueues returns the work and done queues of job. A nil codec loads the
// one configured for the job.
func (r *Runner) BindQueues(job *chain.Job, c *codec.Codec) (*chain.Binding, error) {
	if c == nil {
		var err error
		c, err = r.codecs.Load(r.conf.JobSettings(job.Name()).Encoding)
		if err != nil {
			return nil, err
		}
	}
	done := r.factory.New(job.DoneKey(), c)
	if schema := job.Schema(); schema != nil {
		done = &validatingQueue{Queue: done, schema: schema}
	}
	return &chain.Binding{
		Work:   r.factory.New(job.WorkKey(), c),
		Done:   done,
		Logger: log.ForJob(r.logger, job.Name(), job.Space()),
	}, nil
}

// RunJobs resolves every job's settings, then runs the jobs in order. Config
// and encoder errors abort before any job runs.
func (r *Runner) RunJobs(ctx context.Context, jobs []*chain.Job) error {
	plans, err := r.prepare(jobs)
	if err != nil {
		return err
	}
	start, err := r.restoreCache(ctx, plans)
	if err != nil {
		return err
	}
	for _, p := range plans[start:] {
		if r.Stopped() {
			p.logger.Info("Runner stopped, skip the remaining jobs")
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.runJob(ctx, p); err != nil {
			return err
		}
		if stop, err := r.snapshotCache(ctx, p); stop || err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runJob(ctx context.Context, p *plan) error {
	b, err := r.BindQueues(p.job, p.codec)
	if err != nil {
		return err
	}
	for _, arg := range p.invokeArgs {
		if err := b.Work.Put(ctx, arg); err != nil {
			return fmt.Errorf("job %s: push invoke args: %w", p.job.Name(), err)
		}
	}
	size, err := b.Work.Size(ctx)
	if err != nil {
		p.logger.WithError(err).Warn("Failed to size the work queue")
	}
	p.logger.WithFields(logrus.Fields{
		"type":    p.job.PipelineType().String(),
		"workers": p.workers,
		"work":    size,
	}).Info("Running job")

	return r.withRole(ctx, p, func() error {
		return WithEnv(p.settings.Environment, func() error {
			if p.job.PipelineType() == chain.Concurrent {
				return r.runConcurrent(ctx, p)
			}
			return r.runBottle(ctx, p, b)
		})
	})
}

func (r *Runner) withRole(ctx context.Context, p *plan, fn func() error) error {
	if p.settings.ExecutionRole == "" {
		return fn()
	}
	release, err := r.roles.Assume(ctx, p.settings.ExecutionRole)
	if err != nil {
		return fmt.Errorf("job %s: assume role %s: %w", p.job.Name(), p.settings.ExecutionRole, err)
	}
	if release != nil {
		defer release()
	}
	return fn()
}

// invoke runs the job body once, a panic is turned into an error.
func invoke(ctx context.Context, job *chain.Job, b *chain.Binding) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return job.Func()(ctx, b)
}

func (r *Runner) runBottle(ctx context.Context, p *plan, b *chain.Binding) error {
	if !r.tracker.IsSafe(ctx, p.job) {
		metrics.skipped.WithLabelValues(p.job.Name()).Inc()
		p.logger.Info("The job or an ancestor is still running, skip this cycle")
		return nil
	}
	metrics.runs.WithLabelValues(p.job.Name()).Inc()
	err := r.tracker.TrackExecution(ctx, p.job, func(ctx context.Context) error {
		return invoke(ctx, p.job, b)
	})
	if err == nil {
		return nil
	}
	metrics.failures.WithLabelValues(p.job.Name()).Inc()
	if r.conf.Strict() {
		return fmt.Errorf("job %s: %w", p.job.Name(), err)
	}
	p.logger.WithError(err).Error("Job failed")
	return nil
}

// validatingQueue checks payloads against the job's schema before putting them.
type validatingQueue struct {
	queue.Queue
	schema chain.Schema
}

func (q *validatingQueue) Put(ctx context.Context, payload interface{}) error {
	if err := q.schema.Validate(payload); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return q.Queue.Put(ctx, payload)
}
