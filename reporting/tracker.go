package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bitleak/bert/chain"
	"github.com/bitleak/bert/storage"
	"github.com/bitleak/bert/storage/model"
	"github.com/bitleak/bert/uuid"
)

// TableName holds one record per running bottle job.
const TableName = "bert-etl-reporting"

const (
	DefaultDelay        = 3 * time.Second
	DefaultInterval     = 100 * time.Millisecond
	DefaultStalledAfter = 15 * time.Minute
	releaseTimeout      = 10 * time.Second
)

// Tracker is a best-effort execution lock: records are written around a run
// and polled before the next one. It is not linearizable, two runs starting
// at the same moment may both see an empty table.
type Tracker struct {
	store    storage.Storage
	logger   *logrus.Logger
	delay    time.Duration
	interval time.Duration
	now      func() time.Time
}

type Option func(*Tracker)

// WithPolling sets how long IsSafe waits for records to disappear and how often it looks.
func WithPolling(delay, interval time.Duration) Option {
	return func(t *Tracker) {
		t.delay = delay
		t.interval = interval
	}
}

func WithLogger(logger *logrus.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

func NewTracker(store storage.Storage, opts ...Option) *Tracker {
	t := &Tracker{
		store:    store,
		logger:   logrus.StandardLogger(),
		delay:    DefaultDelay,
		interval: DefaultInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TrackExecution records the run of job for as long as fn runs. The record is
// removed on every exit path, a panic included, and fn's error is returned.
func (t *Tracker) TrackExecution(ctx context.Context, job *chain.Job, fn func(ctx context.Context) error) error {
	identity := uuid.GenUniqueID()
	row := &model.Row{
		TableName:   TableName,
		Identity:    identity,
		Name:        job.Name(),
		CreatedTime: t.now().Unix(),
	}
	if err := t.store.Insert(ctx, row); err != nil {
		return fmt.Errorf("track execution of %s: %w", job.Name(), err)
	}
	defer t.release(job, identity)
	return fn(ctx)
}

func (t *Tracker) release(job *chain.Job, identity string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	logger := t.logger.WithFields(logrus.Fields{
		"job":      job.Name(),
		"space":    job.Space(),
		"identity": identity,
	})
	if _, err := t.store.Delete(ctx, TableName, identity); err != nil {
		logger.WithError(err).Error("Failed to release the execution record")
		return
	}
	if elapsed, err := uuid.ElapsedMilliSecondFromUniqueID(identity); err == nil {
		logger.WithField("elapsed_ms", elapsed).Debug("Released the execution record")
	}
}

// IsSafe reports whether neither the job nor any of its ancestors is running.
// Records still present at the end of the polling window, or a store failure,
// make it unsafe.
func (t *Tracker) IsSafe(ctx context.Context, job *chain.Job) bool {
	parents := job.Parents()
	if len(parents) > 0 {
		names := make([]string, 0, len(parents))
		for _, p := range parents {
			names = append(names, p.Name())
		}
		if t.running(ctx, job, names) {
			return false
		}
	}
	return !t.running(ctx, job, []string{job.Name()})
}

func (t *Tracker) running(ctx context.Context, job *chain.Job, names []string) bool {
	deadline := t.now().Add(t.delay)
	for {
		rows, err := t.store.Scan(ctx, &model.ScanReq{TableName: TableName, Names: names, Limit: 1})
		if err != nil {
			t.logger.WithFields(logrus.Fields{
				"job":   job.Name(),
				"space": job.Space(),
			}).WithError(err).Warn("Failed to scan the execution records, treat as running")
			return true
		}
		if len(rows) == 0 {
			return false
		}
		if !t.now().Before(deadline) {
			return true
		}
		select {
		case <-ctx.Done():
			return true
		case <-time.After(t.interval):
		}
	}
}

// Execution is a record of a run in progress.
type Execution struct {
	Identity  string    `json:"identity"`
	Job       string    `json:"job"`
	CreatedAt time.Time `json:"created_at"`
}

// ScanStalled returns the records older than olderThan, leftovers of crashed runs.
func (t *Tracker) ScanStalled(ctx context.Context, olderThan time.Duration) ([]Execution, error) {
	if olderThan <= 0 {
		olderThan = DefaultStalledAfter
	}
	before := t.now().Add(-olderThan).Unix()
	var (
		stalled []Execution
		after   string
	)
	for {
		rows, err := t.store.Scan(ctx, &model.ScanReq{
			TableName:     TableName,
			After:         after,
			CreatedBefore: before,
			Limit:         100,
		})
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			stalled = append(stalled, Execution{
				Identity:  row.Identity,
				Job:       row.Name,
				CreatedAt: createdAt(row),
			})
		}
		if len(rows) < 100 {
			return stalled, nil
		}
		after = rows[len(rows)-1].Identity
	}
}

// Release removes a record, used to clean up after a crashed run.
func (t *Tracker) Release(ctx context.Context, identity string) (bool, error) {
	return t.store.Delete(ctx, TableName, identity)
}

// createdAt prefers the millisecond time carried by the record's ULID and
// falls back to the column for records written by other tools.
func createdAt(row *model.Row) time.Time {
	if created, err := uuid.CreatedTime(row.Identity); err == nil {
		return created
	}
	return time.Unix(row.CreatedTime, 0)
}
