package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/bitleak/bert/chain"
)

// runConcurrent runs p.workers goroutines over the job's work queue and waits
// for all of them. Bodies share the process, so a runtime fatal error in one
// (a concurrent map write, say) takes the whole pool down, not one worker.
func (r *Runner) runConcurrent(ctx context.Context, p *plan) error {
	var wg sync.WaitGroup
	alive := atomic.NewInt32(0)
	errs := make(chan error, p.workers)
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		alive.Inc()
		go func(id int) {
			defer wg.Done()
			defer alive.Dec()
			if err := r.work(ctx, p, id); err != nil {
				errs <- err
			}
		}(i)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	r.supervise(ctx, p, alive, done)

	close(errs)
	var first error
	for err := range errs {
		if first == nil {
			first = err
		}
	}
	return first
}

// supervise logs the count of live workers whenever it changes and, every
// pulse, how much work is left. It returns once every worker has exited.
func (r *Runner) supervise(ctx context.Context, p *plan, alive *atomic.Int32, done <-chan struct{}) {
	ticker := time.NewTicker(r.conf.PollInterval())
	defer ticker.Stop()
	work := r.factory.New(p.job.WorkKey(), p.codec)
	lastActive := int32(-1)
	lastPulse := time.Now()
	for {
		select {
		case <-done:
			metrics.activeWorkers.WithLabelValues(p.job.Name()).Set(0)
			p.logger.Info("All workers exited")
			return
		case <-ticker.C:
			active := alive.Load()
			if active != lastActive {
				lastActive = active
				metrics.activeWorkers.WithLabelValues(p.job.Name()).Set(float64(active))
				p.logger.Infof("Active Job Count: %d", active)
			}
			if r.conf.PulseIntervalSecond <= 0 || time.Since(lastPulse) < r.conf.PulseInterval() {
				continue
			}
			lastPulse = time.Now()
			size, err := work.Size(ctx)
			if err != nil {
				p.logger.WithError(err).Warn("Failed to size the work queue")
				continue
			}
			metrics.workLeft.WithLabelValues(p.job.Name()).Set(float64(size))
			p.logger.WithField("work", size).Info("Pulse")
		}
	}
}

// work is one worker: it keeps invoking the body while work is left, and
// restarts after a failure until the retries are used up.
func (r *Runner) work(ctx context.Context, p *plan, id int) error {
	b, err := r.BindQueues(p.job, p.codec)
	if err != nil {
		return err
	}
	logger := p.logger.WithField("worker", id)
	b.Logger = logger

	restarts := 0
	for {
		err := r.cycle(ctx, p, b)
		if err == nil {
			return nil
		}
		metrics.failures.WithLabelValues(p.job.Name()).Inc()
		if r.conf.Strict() {
			logger.WithError(err).Error("Job failed, stop the worker")
			return fmt.Errorf("job %s worker %d: %w", p.job.Name(), id, err)
		}
		restarts++
		logger.WithError(err).WithField("restarts", restarts).Error("Job failed")
		if restarts >= p.settings.MaxRetries {
			metrics.exhausted.WithLabelValues(p.job.Name()).Inc()
			logger.Errorf("Job failed %d times, give up", restarts)
			return nil
		}
	}
}

func (r *Runner) cycle(ctx context.Context, p *plan, b *chain.Binding) error {
	for {
		if r.Stopped() || ctx.Err() != nil {
			return nil
		}
		metrics.runs.WithLabelValues(p.job.Name()).Inc()
		if err := invoke(ctx, p.job, b); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.conf.RecheckDelay()):
		}
		size, err := b.Work.Size(ctx)
		if err != nil {
			return err
		}
		if size == 0 {
			return nil
		}
	}
}
