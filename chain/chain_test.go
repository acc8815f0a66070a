package chain

import (
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, *Binding) error { return nil }

func TestRegistry_BuildChain(t *testing.T) {
	r := NewRegistry()
	extract := r.MustBind(r.Root(), "extract", noop)
	transform := r.MustBind(extract, "transform", noop, WithPipelineType(Concurrent), WithWorkers(3))
	load := r.MustBind(transform, "load", noop, WithCache())

	jobs, err := r.BuildChain()
	require.NoError(t, err)
	assert.Equal(t, []*Job{extract, transform, load}, jobs)
	assert.Equal(t, jobs, r.Jobs())

	assert.Equal(t, r.Root().DoneKey(), extract.WorkKey())
	assert.Equal(t, extract.DoneKey(), transform.WorkKey())
	assert.Equal(t, transform.DoneKey(), load.WorkKey())
	assert.Equal(t, []*Job{extract, transform}, load.Parents())
	assert.Empty(t, extract.Parents())
	assert.Equal(t, transform, load.Parent())
	assert.Nil(t, load.Child())
	assert.True(t, load.Cached())

	assert.Equal(t, 3, transform.Workers())
	assert.Equal(t, 1, load.Workers())
	assert.Equal(t, Bottle, load.PipelineType())

	found, ok := r.Lookup("transform")
	require.True(t, ok)
	assert.Same(t, transform, found)
	_, ok = r.Lookup(RootName)
	assert.False(t, ok)
}

func TestJob_Keys(t *testing.T) {
	r := NewRegistry()
	job := r.MustBind(nil, "extract", noop)
	// sha1("extract")
	assert.Equal(t, "bert-etl-e4f23495a1103e1db75e91fdc67ed60c38948b5a", job.Space())
	assert.Equal(t, Key(job.Space(), "done"), job.DoneKey())
	assert.Equal(t, Key(job.Space()+"done"), job.DoneKey())
}

func TestJob_DefaultWorkers(t *testing.T) {
	r := NewRegistry()
	job := r.MustBind(nil, "fan", noop, WithPipelineType(Concurrent))
	assert.Equal(t, runtime.NumCPU(), job.Workers())
	bottle := r.MustBind(job, "bottle", noop, WithWorkers(8))
	assert.Equal(t, 1, bottle.Workers())
}

func TestRegistry_BindErrors(t *testing.T) {
	r := NewRegistry()
	extract := r.MustBind(nil, "extract", noop)

	var constructionErr *ConstructionError
	_, err := r.Bind(r.Root(), "other-root-child", noop)
	require.True(t, errors.As(err, &constructionErr))
	assert.Equal(t, "other-root-child", constructionErr.Job)

	_, err = r.Bind(extract, "extract", noop)
	assert.True(t, errors.As(err, &constructionErr), "duplicate name")

	_, err = r.Bind(extract, "", noop)
	assert.True(t, errors.As(err, &constructionErr), "empty name")

	_, err = r.Bind(extract, "nil-func", nil)
	assert.True(t, errors.As(err, &constructionErr), "nil func")

	foreign := NewRegistry().MustBind(nil, "foreign", noop)
	_, err = r.Bind(foreign, "child", noop)
	assert.True(t, errors.As(err, &constructionErr), "parent of another registry")

	assert.Panics(t, func() { r.MustBind(r.Root(), "again", noop) })

	jobs, err := r.BuildChain()
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestRequiredFields(t *testing.T) {
	schema := RequiredFields{"id", "name"}
	assert.NoError(t, schema.Validate(map[string]interface{}{"id": 1, "name": "x", "extra": true}))
	assert.Error(t, schema.Validate(map[string]interface{}{"id": 1}))
	assert.Error(t, schema.Validate("not a map"))
}
