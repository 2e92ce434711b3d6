package cron

import "context"

// Job is one unit of scheduled work. Run reports how many rows it changed.
type Job interface {
	Name() string
	Run(ctx context.Context) (int, error)
}

// Registry is the ordered set of jobs a tick runs. Names are unique.
type Registry struct {
	jobs  []Job
	names map[string]struct{}
}

func NewRegistry(jobs ...Job) *Registry {
	r := &Registry{names: map[string]struct{}{}}
	for _, job := range jobs {
		r.Register(job)
	}
	return r
}

// Register appends job and reports whether it was added. Nil jobs and
// repeated names are dropped.
func (r *Registry) Register(job Job) bool {
	if job == nil {
		return false
	}
	if _, dup := r.names[job.Name()]; dup {
		return false
	}
	r.names[job.Name()] = struct{}{}
	r.jobs = append(r.jobs, job)
	return true
}

// Jobs returns a copy safe for the caller to modify.
func (r *Registry) Jobs() []Job {
	return append([]Job(nil), r.jobs...)
}
