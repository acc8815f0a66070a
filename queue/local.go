package queue

import (
	"context"
	"sync"
)

// LocalBroker holds the in-memory lists of every local queue of a process.
type LocalBroker struct {
	mu    sync.Mutex
	lists map[string][]*Item
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{lists: make(map[string][]*Item)}
}

func (b *LocalBroker) push(key string, item *Item) {
	b.mu.Lock()
	b.lists[key] = append(b.lists[key], item)
	b.mu.Unlock()
}

func (b *LocalBroker) pop(key string) *Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.lists[key]
	if len(list) == 0 {
		return nil
	}
	item := list[0]
	list[0] = nil
	b.lists[key] = list[1:]
	return item
}

func (b *LocalBroker) size(key string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.lists[key]))
}

// Clear drops every list.
func (b *LocalBroker) Clear() {
	b.mu.Lock()
	b.lists = make(map[string][]*Item)
	b.mu.Unlock()
}

// LocalQueue is a FIFO in process memory, payloads are deep copied on put.
type LocalQueue struct {
	key    string
	broker *LocalBroker
}

func NewLocalQueue(key string, broker *LocalBroker) *LocalQueue {
	return &LocalQueue{key: key, broker: broker}
}

func (q *LocalQueue) Key() string {
	return q.key
}

func (q *LocalQueue) Put(_ context.Context, payload interface{}) error {
	q.broker.push(q.key, &Item{Payload: clonePayload(payload)})
	metrics.puts.WithLabelValues(string(KindLocal), q.key).Inc()
	return nil
}

func (q *LocalQueue) Get(_ context.Context) (*Item, error) {
	item := q.broker.pop(q.key)
	if item == nil {
		metrics.empty.WithLabelValues(string(KindLocal), q.key).Inc()
		return nil, nil
	}
	metrics.gets.WithLabelValues(string(KindLocal), q.key).Inc()
	return item, nil
}

func (q *LocalQueue) Size(_ context.Context) (int64, error) {
	return q.broker.size(q.key), nil
}
