package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitleak/bert/codec"
	"github.com/bitleak/bert/storage"
	"github.com/bitleak/bert/storage/model"
)

const (
	envelopeIdentity = "identity"
	envelopeDatum    = "datum"
)

// TableQueue keeps one row per payload in a scan-capable table. Scanning and
// deleting are not atomic: when the delete finds the row gone, another
// consumer took it and the scan is retried.
type TableQueue struct {
	key   string
	store storage.Storage
	codec *codec.Codec
}

func NewTableQueue(key string, store storage.Storage, c *codec.Codec) *TableQueue {
	if c == nil {
		c = codec.Default()
	}
	return &TableQueue{key: key, store: store, codec: c}
}

func (q *TableQueue) Key() string {
	return q.key
}

// NewRow encodes payload into the row TableQueue.Put would store under key.
func NewRow(key string, c *codec.Codec, payload interface{}) (*model.Row, error) {
	if c == nil {
		c = codec.Default()
	}
	return packRow(key, c, payload)
}

// packRow encodes the payload into a row keyed by its content identity.
func packRow(key string, c *codec.Codec, payload interface{}) (*model.Row, error) {
	identity, err := c.Identity(payload)
	if err != nil {
		return nil, err
	}
	return packRowWithIdentity(key, c, identity, payload)
}

func packRowWithIdentity(key string, c *codec.Codec, identity string, payload interface{}) (*model.Row, error) {
	encoded, err := c.Encode(payload)
	if err != nil {
		return nil, err
	}
	envelope := codec.Map(map[string]codec.Tagged{
		envelopeIdentity: codec.String(identity),
		envelopeDatum:    encoded,
	})
	datum, err := codec.Marshal(envelope)
	if err != nil {
		return nil, err
	}
	return &model.Row{
		TableName:   key,
		Identity:    identity,
		Datum:       datum,
		CreatedTime: time.Now().Unix(),
	}, nil
}

func unpackRow(c *codec.Codec, row *model.Row) (*Item, error) {
	envelope, err := codec.Unmarshal(row.Datum)
	if err != nil {
		return nil, fmt.Errorf("unpack row %s: %w", row.Identity, err)
	}
	if envelope.Tag != codec.TagMap {
		return nil, &codec.DecodeError{Tag: envelope.Tag, Reason: "row envelope isn't a map"}
	}
	datum, ok := envelope.M[envelopeDatum]
	if !ok {
		return nil, &codec.DecodeError{Tag: codec.TagMap, Reason: "row envelope has no datum"}
	}
	payload, err := c.Decode(datum)
	if err != nil {
		return nil, err
	}
	return &Item{Identity: row.Identity, Payload: payload}, nil
}

func (q *TableQueue) Put(ctx context.Context, payload interface{}) error {
	row, err := packRow(q.key, q.codec, payload)
	if err != nil {
		return err
	}
	if err := q.store.Insert(ctx, row); err != nil {
		return fmt.Errorf("insert row: %w", err)
	}
	metrics.puts.WithLabelValues(string(KindTable), q.key).Inc()
	return nil
}

func (q *TableQueue) Get(ctx context.Context) (*Item, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := q.store.ScanOne(ctx, q.key)
		if errors.Is(err, storage.ErrNotFound) {
			metrics.empty.WithLabelValues(string(KindTable), q.key).Inc()
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		item, err := unpackRow(q.codec, row)
		if err != nil {
			return nil, err
		}
		deleted, err := q.store.Delete(ctx, q.key, row.Identity)
		if err != nil {
			return nil, fmt.Errorf("delete row: %w", err)
		}
		if !deleted {
			metrics.lostRaces.WithLabelValues(string(KindTable), q.key).Inc()
			continue
		}
		metrics.gets.WithLabelValues(string(KindTable), q.key).Inc()
		return item, nil
	}
}

func (q *TableQueue) Size(ctx context.Context) (int64, error) {
	return q.store.Count(ctx, q.key)
}

// Clear drops every row of the queue.
func (q *TableQueue) Clear(ctx context.Context) (int64, error) {
	return q.store.Clear(ctx, q.key)
}
