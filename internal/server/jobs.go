package server

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/framescan/internal/pipeline"
)

// jobProgressInterval is the minimum gap between progress logs of one job.
const jobProgressInterval = 5 * time.Second

// job is one video run started over the API. Each job owns its
// orchestrator, so runs are independent and share only the detector.
type job struct {
	ID           string
	Path         string
	CreatedAt    time.Time
	orchestrator *pipeline.Orchestrator
	run          *pipeline.Run
	cancel       context.CancelFunc

	// finishedAt is set under the registry lock once the run ends.
	finishedAt time.Time
}

func (j *job) response() JobResponse {
	return JobResponse{
		ID:        j.ID,
		Path:      j.Path,
		CreatedAt: j.CreatedAt,
		Snapshot:  j.orchestrator.Snapshot(),
	}
}

// finished reports whether the run has ended.
func (j *job) finished() bool {
	select {
	case <-j.run.Done():
		return true
	default:
		return false
	}
}

// jobRegistry holds API jobs. Finished jobs are evicted once older than
// ttl or when more than maxFinished of them are kept, oldest first.
// Running jobs are never evicted.
type jobRegistry struct {
	mu          sync.RWMutex
	jobs        map[string]*job
	ttl         time.Duration
	maxFinished int
	now         func() time.Time
}

func newJobRegistry(ttl time.Duration, maxFinished int) *jobRegistry {
	return &jobRegistry{
		jobs:        map[string]*job{},
		ttl:         ttl,
		maxFinished: maxFinished,
		now:         time.Now,
	}
}

// start creates an orchestrator and runs it over path in the background.
// The job reports name, the path as the client gave it.
func (r *jobRegistry) start(det pipeline.FrameDetector, opts pipeline.Options, name, path string) *job {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	if opts.Progress == nil {
		logger := slog.Default().With("job_id", id)
		opts.Progress = pipeline.NewThrottledProgressCallback(
			pipeline.NewLogProgressCallback(logger, slog.LevelDebug, "job ").WithInterval(1),
			jobProgressInterval)
	}
	o := pipeline.NewOrchestrator(det, opts)
	j := &job{
		ID:           id,
		Path:         name,
		CreatedAt:    r.now(),
		orchestrator: o,
		cancel:       cancel,
	}

	j.run = o.Start(ctx, path)
	go func() {
		<-j.run.Done()
		cancel()
		jobsFinished.WithLabelValues(string(o.State())).Inc()
		r.markFinished(j)
	}()

	r.mu.Lock()
	r.jobs[j.ID] = j
	r.mu.Unlock()
	jobsStarted.Inc()
	r.prune()
	return j
}

func (r *jobRegistry) markFinished(j *job) {
	r.mu.Lock()
	j.finishedAt = r.now()
	r.mu.Unlock()
	r.prune()
	if r.ttl > 0 {
		time.AfterFunc(r.ttl, r.prune)
	}
}

// prune evicts finished jobs past their ttl, then the oldest finished jobs
// beyond maxFinished.
func (r *jobRegistry) prune() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var finished []*job
	for id, j := range r.jobs {
		if j.finishedAt.IsZero() {
			continue
		}
		if r.ttl > 0 && now.Sub(j.finishedAt) >= r.ttl {
			delete(r.jobs, id)
			jobsEvicted.Inc()
			continue
		}
		finished = append(finished, j)
	}
	if r.maxFinished <= 0 || len(finished) <= r.maxFinished {
		return
	}
	slices.SortFunc(finished, func(a, b *job) int { return a.finishedAt.Compare(b.finishedAt) })
	for _, j := range finished[:len(finished)-r.maxFinished] {
		delete(r.jobs, j.ID)
		jobsEvicted.Inc()
	}
}

func (r *jobRegistry) get(id string) (*job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	return j, ok
}

// list returns all jobs, oldest first.
func (r *jobRegistry) list() []*job {
	r.mu.RLock()
	out := make([]*job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *job) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// remove cancels a job and forgets it.
func (r *jobRegistry) remove(id string) bool {
	r.mu.Lock()
	j, ok := r.jobs[id]
	delete(r.jobs, id)
	r.mu.Unlock()
	if ok {
		j.cancel()
	}
	return ok
}

func (r *jobRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

func (r *jobRegistry) cancelAll() {
	for _, j := range r.list() {
		j.cancel()
	}
}
