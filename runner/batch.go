package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/bitleak/bert/chain"
	"github.com/bitleak/bert/queue"
	"github.com/bitleak/bert/storage/model"
)

var ErrNotStreaming = errors.New("event batches need a streaming work queue")

// HandleBatch feeds the rows of an event batch into the job's work queue and
// runs the body once under an execution record, whatever the pipeline type.
// Rows taken from memory are acked in the backing table by the queue.
func (r *Runner) HandleBatch(ctx context.Context, job *chain.Job, rows []*model.Row) error {
	p, err := r.newPlan(job)
	if err != nil {
		return err
	}
	b, err := r.BindQueues(job, p.codec)
	if err != nil {
		return err
	}
	work, ok := b.Work.(*queue.EphemeralQueue)
	if !ok {
		return fmt.Errorf("job %s: %w", job.Name(), ErrNotStreaming)
	}
	for _, row := range rows {
		if row.TableName == "" {
			row.TableName = work.Key()
		}
		work.LocalPut(row)
	}
	p.logger.WithFields(logrus.Fields{
		"type": job.PipelineType().String(),
		"rows": len(rows),
	}).Info("Handling event batch")

	metrics.runs.WithLabelValues(job.Name()).Inc()
	err = r.tracker.TrackExecution(ctx, job, func(ctx context.Context) error {
		return r.withRole(ctx, p, func() error {
			return WithEnv(p.settings.Environment, func() error {
				return invoke(ctx, job, b)
			})
		})
	})
	if err == nil {
		return nil
	}
	metrics.failures.WithLabelValues(job.Name()).Inc()
	if r.conf.Strict() {
		return fmt.Errorf("job %s: %w", job.Name(), err)
	}
	p.logger.WithError(err).Error("Job failed")
	return nil
}
