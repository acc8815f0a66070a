package main

import (
	"context"
	"fmt"
	"strconv"

	_ "go.uber.org/automaxprocs"

	"github.com/bitleak/bert/chain"
	"github.com/bitleak/bert/cli"
	"github.com/bitleak/bert/queue"
)

// count reads an integer field of a payload, whatever numeric type the
// queue backend decoded it into.
func count(payload interface{}, field string) (int64, error) {
	fields, ok := payload.(map[string]interface{})
	if !ok {
		return 0, fmt.Errorf("payload is %T, not a map", payload)
	}
	switch v := fields[field].(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	}
	return 0, fmt.Errorf("field %q is %T", field, fields[field])
}

// extract turns every {"count": n} invoke arg into the numbers 1..n.
func extract(ctx context.Context, b *chain.Binding) error {
	it := queue.NewIterator(b.Work)
	for it.Next(ctx) {
		n, err := count(it.Item().Payload, "count")
		if err != nil {
			return err
		}
		for i := int64(1); i <= n; i++ {
			if err := b.Done.Put(ctx, map[string]interface{}{"n": i}); err != nil {
				return err
			}
		}
		b.Logger.WithField("count", n).Info("Extracted")
	}
	return it.Err()
}

func square(ctx context.Context, b *chain.Binding) error {
	it := queue.NewIterator(b.Work)
	for it.Next(ctx) {
		n, err := count(it.Item().Payload, "n")
		if err != nil {
			return err
		}
		if err := b.Done.Put(ctx, map[string]interface{}{"n": n, "square": n * n}); err != nil {
			return err
		}
	}
	return it.Err()
}

func sum(ctx context.Context, b *chain.Binding) error {
	var total, items int64
	it := queue.NewIterator(b.Work)
	for it.Next(ctx) {
		sq, err := count(it.Item().Payload, "square")
		if err != nil {
			return err
		}
		total += sq
		items++
	}
	if err := it.Err(); err != nil {
		return err
	}
	b.Logger.WithField("items", items).Infof("Sum of squares: %d", total)
	return nil
}

func main() {
	reg := chain.NewRegistry()
	e := reg.MustBind(nil, "extract", extract)
	t := reg.MustBind(e, "square", square,
		chain.WithPipelineType(chain.Concurrent),
		chain.WithSchema(chain.RequiredFields{"n", "square"}),
		chain.WithCache())
	reg.MustBind(t, "sum", sum)
	cli.Execute(reg, nil)
}
