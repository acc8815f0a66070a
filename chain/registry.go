package chain

import (
	"sync"
)

// Registry binds jobs into one linear chain hanging off the root.
type Registry struct {
	mu    sync.Mutex
	root  *Job
	jobs  []*Job
	names map[string]*Job
}

func NewRegistry() *Registry {
	root := newJob(nil, RootName, nil)
	return &Registry{
		root:  root,
		names: map[string]*Job{RootName: root},
	}
}

func (r *Registry) Root() *Job {
	return r.root
}

// Bind declares name as the only child of parent.
func (r *Registry) Bind(parent *Job, name string, fn Func, opts ...Option) (*Job, error) {
	if name == "" {
		return nil, &ConstructionError{Job: name, Reason: "empty name"}
	}
	if fn == nil {
		return nil, &ConstructionError{Job: name, Reason: "nil function"}
	}
	if parent == nil {
		parent = r.root
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.names[parent.name]; !ok || owner != parent {
		return nil, &ConstructionError{Job: name, Reason: "parent " + parent.name + " isn't bound to this registry"}
	}
	if _, ok := r.names[name]; ok {
		return nil, &ConstructionError{Job: name, Reason: "already bound"}
	}
	if parent.child != nil {
		return nil, &ConstructionError{Job: name, Reason: "parent " + parent.name + " already has the child " + parent.child.name}
	}
	job := newJob(parent, name, fn, opts...)
	parent.child = job
	r.jobs = append(r.jobs, job)
	r.names[name] = job
	return job, nil
}

// MustBind is Bind for package level declarations, it panics on error.
func (r *Registry) MustBind(parent *Job, name string, fn Func, opts ...Option) *Job {
	job, err := r.Bind(parent, name, fn, opts...)
	if err != nil {
		panic(err)
	}
	return job
}

// BuildChain returns the jobs from the root's child to the last one.
func (r *Registry) BuildChain() ([]*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chain := make([]*Job, 0, len(r.jobs))
	for job := r.root.child; job != nil; job = job.child {
		chain = append(chain, job)
	}
	if len(chain) != len(r.jobs) {
		reachable := make(map[*Job]bool, len(chain))
		for _, job := range chain {
			reachable[job] = true
		}
		for _, job := range r.jobs {
			if !reachable[job] {
				return nil, &ConstructionError{Job: job.name, Reason: "not reachable from the root"}
			}
		}
	}
	return chain, nil
}

// Lookup returns the job bound under name.
func (r *Registry) Lookup(name string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.names[name]
	if !ok || job == r.root {
		return nil, false
	}
	return job, true
}

// Jobs returns the bound jobs in declaration order.
func (r *Registry) Jobs() []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Job(nil), r.jobs...)
}
