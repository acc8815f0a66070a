package queue

import (
	"context"
	"errors"
)

var (
	// ErrUnacked is returned when an item taken from the ephemeral queue could
	// not be removed from its backing table in time.
	ErrUnacked = errors.New("queue: backing row was not acknowledged")
	// ErrUnsupportedKind is returned for an unknown queue kind or a kind whose
	// backing client is missing.
	ErrUnsupportedKind = errors.New("queue: unsupported kind")
)

// Queue moves payloads between two jobs. Get returns (nil, nil) when the queue
// is empty.
type Queue interface {
	Key() string
	Get(ctx context.Context) (*Item, error)
	Put(ctx context.Context, payload interface{}) error
	Size(ctx context.Context) (int64, error)
}

// Item is one payload taken off a queue.
type Item struct {
	Identity string
	Payload  interface{}
}

// Clone deep copies the item; maps, lists and byte slices are duplicated.
func (i *Item) Clone() *Item {
	return &Item{Identity: i.Identity, Payload: clonePayload(i.Payload)}
}

func (i *Item) destroy() {
	i.Identity = ""
	i.Payload = nil
}

func clonePayload(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for key, value := range val {
			out[key] = clonePayload(value)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, value := range val {
			out[i] = clonePayload(value)
		}
		return out
	case []byte:
		return append([]byte(nil), val...)
	}
	return v
}

// Iterator yields items until the queue reports empty or fails.
//
//	it := queue.NewIterator(q)
//	for it.Next(ctx) {
//		handle(it.Item())
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	q   Queue
	cur *Item
	err error
}

func NewIterator(q Queue) *Iterator {
	return &Iterator{q: q}
}

// Next destroys the previously yielded item, then fetches the next one.
func (it *Iterator) Next(ctx context.Context) bool {
	if it.cur != nil {
		it.cur.destroy()
		it.cur = nil
	}
	if it.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		it.err = err
		return false
	}
	item, err := it.q.Get(ctx)
	if err != nil {
		it.err = err
		return false
	}
	if item == nil {
		return false
	}
	it.cur = item
	return true
}

func (it *Iterator) Item() *Item {
	return it.cur
}

func (it *Iterator) Err() error {
	return it.err
}
