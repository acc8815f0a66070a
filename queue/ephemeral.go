package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bitleak/bert/codec"
	"github.com/bitleak/bert/storage/model"
)

// ExternalIdentity marks rows fed from outside the table, they have no backing row to ack.
const ExternalIdentity = "external-entry"

const (
	DefaultAckTimeout  = 15 * time.Second
	DefaultAckInterval = 100 * time.Millisecond
)

// rowBuffer holds the raw rows of one key. Rows are kept encoded so queues
// with different codecs can share a buffer.
type rowBuffer struct {
	mu   sync.Mutex
	rows []*model.Row
}

func (b *rowBuffer) push(row *model.Row) {
	b.mu.Lock()
	b.rows = append(b.rows, row)
	b.mu.Unlock()
}

func (b *rowBuffer) pop() *model.Row {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.rows) == 0 {
		return nil
	}
	row := b.rows[0]
	b.rows[0] = nil
	b.rows = b.rows[1:]
	return row
}

func (b *rowBuffer) len() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.rows))
}

// EphemeralQueue serves rows delivered by an event batch from memory. Every row
// taken from memory that came from the fallback table is deleted there, with
// retries, so it isn't delivered twice.
type EphemeralQueue struct {
	key      string
	codec    *codec.Codec
	fallback *TableQueue
	buf      *rowBuffer

	ackTimeout  time.Duration
	ackInterval time.Duration
}

func NewEphemeralQueue(key string, fallback *TableQueue, c *codec.Codec) *EphemeralQueue {
	return newEphemeralQueue(key, fallback, c, &rowBuffer{})
}

func newEphemeralQueue(key string, fallback *TableQueue, c *codec.Codec, buf *rowBuffer) *EphemeralQueue {
	if c == nil {
		c = codec.Default()
	}
	return &EphemeralQueue{
		key:         key,
		codec:       c,
		fallback:    fallback,
		buf:         buf,
		ackTimeout:  DefaultAckTimeout,
		ackInterval: DefaultAckInterval,
	}
}

// SetAckTimeout changes how long Get keeps retrying the delete of a backing row.
func (q *EphemeralQueue) SetAckTimeout(timeout, interval time.Duration) {
	q.ackTimeout = timeout
	q.ackInterval = interval
}

func (q *EphemeralQueue) Key() string {
	return q.key
}

// LocalPut appends a row received from an event batch.
func (q *EphemeralQueue) LocalPut(row *model.Row) {
	q.buf.push(row)
}

// LocalPutPayload appends a payload that has no backing row.
func (q *EphemeralQueue) LocalPutPayload(payload interface{}) error {
	row, err := packRowWithIdentity(q.key, q.codec, ExternalIdentity, payload)
	if err != nil {
		return err
	}
	q.LocalPut(row)
	return nil
}

func (q *EphemeralQueue) Get(ctx context.Context) (*Item, error) {
	row := q.buf.pop()
	if row == nil {
		if q.fallback != nil {
			return q.fallback.Get(ctx)
		}
		metrics.empty.WithLabelValues(string(KindStreaming), q.key).Inc()
		return nil, nil
	}
	item, err := unpackRow(q.codec, row)
	if err != nil {
		return nil, err
	}
	if row.Identity != ExternalIdentity && q.fallback != nil {
		if err := q.ack(ctx, row); err != nil {
			return nil, err
		}
	}
	metrics.gets.WithLabelValues(string(KindStreaming), q.key).Inc()
	return item, nil
}

// ack deletes the backing row, the event may arrive before the row is readable.
func (q *EphemeralQueue) ack(ctx context.Context, row *model.Row) error {
	deadline := time.Now().Add(q.ackTimeout)
	for {
		deleted, err := q.fallback.store.Delete(ctx, q.fallback.key, row.Identity)
		if err != nil {
			return fmt.Errorf("ack row %s: %w", row.Identity, err)
		}
		if deleted {
			return nil
		}
		if time.Now().After(deadline) {
			metrics.unacked.WithLabelValues(string(KindStreaming), q.key).Inc()
			return fmt.Errorf("row %s: %w", row.Identity, ErrUnacked)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(q.ackInterval):
		}
	}
}

// Put writes through the fallback table when there is one, the table's change
// stream feeds the row back in a later batch.
func (q *EphemeralQueue) Put(ctx context.Context, payload interface{}) error {
	if q.fallback != nil {
		return q.fallback.Put(ctx, payload)
	}
	if err := q.LocalPutPayload(payload); err != nil {
		return err
	}
	metrics.puts.WithLabelValues(string(KindStreaming), q.key).Inc()
	return nil
}

// Size counts the rows in memory plus the rows left in the fallback table.
func (q *EphemeralQueue) Size(ctx context.Context) (int64, error) {
	size := q.buf.len()
	if q.fallback == nil {
		return size, nil
	}
	stored, err := q.fallback.Size(ctx)
	if err != nil {
		return 0, err
	}
	return size + stored, nil
}
