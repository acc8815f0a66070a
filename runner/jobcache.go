package runner

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/bitleak/bert/config"
)

func planIndex(plans []*plan, name string) int {
	for i, p := range plans {
		if p.job.Name() == name {
			return i
		}
	}
	return -1
}

func cacheError(format string, args ...interface{}) error {
	return &config.ConfigError{Field: "cache", Reason: fmt.Sprintf(format, args...)}
}

func (r *Runner) validateCache(plans []*plan) error {
	c := r.conf.Cache
	if !c.Enable {
		return nil
	}
	if r.cache == nil {
		return cacheError("no cache backend for queue type %q", r.conf.QueueType)
	}
	start, stop := -1, -1
	if c.StartBeforeJob != "" {
		if start = planIndex(plans, c.StartBeforeJob); start < 0 {
			return cacheError("start_before_job %q isn't in the chain", c.StartBeforeJob)
		}
		if start == 0 {
			return cacheError("start_before_job %q has no previous job to restore", c.StartBeforeJob)
		}
		if prev := plans[start-1].job; !prev.Cached() {
			return cacheError("job %q before start_before_job isn't cached", prev.Name())
		}
	}
	if c.StopAfterJob != "" {
		if stop = planIndex(plans, c.StopAfterJob); stop < 0 {
			return cacheError("stop_after_job %q isn't in the chain", c.StopAfterJob)
		}
		if !plans[stop].job.Cached() {
			return cacheError("stop_after_job %q isn't cached", c.StopAfterJob)
		}
	}
	if start >= 0 && stop >= 0 && stop < start {
		return cacheError("stop_after_job %q runs before start_before_job %q", c.StopAfterJob, c.StartBeforeJob)
	}
	return nil
}

// restoreCache refills the done queue of the job before start_before_job from
// its cache and returns the index of the first job to run.
func (r *Runner) restoreCache(ctx context.Context, plans []*plan) (int, error) {
	c := r.conf.Cache
	if !c.Enable || c.StartBeforeJob == "" {
		return 0, nil
	}
	start := planIndex(plans, c.StartBeforeJob)
	prev := plans[start-1]
	key := prev.job.DoneKey()
	ok, err := r.cache.Contains(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("job %s has nothing cached", prev.job.Name())
	}
	if err := r.cache.ClearQueue(ctx, key); err != nil {
		return 0, err
	}
	restored, err := r.cache.FillQueueFromCache(ctx, key, c.QueueFillCount)
	if err != nil {
		return 0, err
	}
	prev.logger.WithFields(logrus.Fields{
		"restored": restored,
		"skipped":  start,
	}).Info("Restored the done queue from cache")
	return start, nil
}

// snapshotCache copies the done queue of stop_after_job into its cache and
// reports whether the run should stop there.
func (r *Runner) snapshotCache(ctx context.Context, p *plan) (bool, error) {
	c := r.conf.Cache
	if !c.Enable || c.StopAfterJob != p.job.Name() {
		return false, nil
	}
	key := p.job.DoneKey()
	if err := r.cache.Clear(ctx, key); err != nil {
		return true, err
	}
	cached, err := r.cache.FillCacheFromQueue(ctx, key, 0)
	if err != nil {
		return true, err
	}
	p.logger.WithField("cached", cached).Info("Cached the done queue, stop here")
	return true, nil
}
