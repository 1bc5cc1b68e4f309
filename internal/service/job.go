package service

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
)

const (
	JobKindBacktest    = "backtest"
	JobKindWalkForward = "walkforward"
)

// JobParams 描述一次运行的请求参数。
type JobParams struct {
	Strategy   string `json:"strategy"`
	Symbol     string `json:"symbol"`
	Interval   string `json:"interval"`
	Bars       int    `json:"bars"`
	WindowSize int    `json:"window_size,omitempty"`
	StepSize   int    `json:"step_size,omitempty"`
}

// Job 在内存中跟踪运行进度，ID 同时作为账本中的 run id。
type Job struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Params    JobParams `json:"params"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Message   string    `json:"message"`
	Warnings  []string  `json:"warnings"`
}

func (j *Job) copy() Job {
	if j == nil {
		return Job{}
	}
	out := *j
	out.Warnings = append([]string{}, j.Warnings...)
	return out
}

// jobTable 保留最近 max 个任务。
type jobTable struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	max  int
	now  func() time.Time
}

func newJobTable(max int, now func() time.Time) *jobTable {
	if max <= 0 {
		max = 200
	}
	return &jobTable{jobs: make(map[string]*Job), max: max, now: now}
}

func (t *jobTable) start(kind string, params JobParams) Job {
	now := t.now()
	job := &Job{ID: uuid.NewString(), Kind: kind, Status: JobStatusRunning, Params: params, StartedAt: now, UpdatedAt: now}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[job.ID] = job
	t.evictLocked()
	return job.copy()
}

func (t *jobTable) warn(id, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if job, ok := t.jobs[id]; ok {
		job.Warnings = append(job.Warnings, msg)
		job.UpdatedAt = t.now()
	}
}

func (t *jobTable) finish(id string, err error, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	if !ok {
		return
	}
	job.Status = JobStatusDone
	job.Message = msg
	if err != nil {
		job.Status = JobStatusFailed
		job.Message = err.Error()
	}
	job.UpdatedAt = t.now()
}

func (t *jobTable) get(id string) (Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.copy(), true
}

// list 按开始时间倒序。
func (t *jobTable) list() []Job {
	t.mu.RLock()
	out := make([]Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		out = append(out, j.copy())
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (t *jobTable) evictLocked() {
	if len(t.jobs) <= t.max {
		return
	}
	var oldest *Job
	for _, j := range t.jobs {
		if j.Status == JobStatusRunning {
			continue
		}
		if oldest == nil || j.StartedAt.Before(oldest.StartedAt) {
			oldest = j
		}
	}
	if oldest != nil {
		delete(t.jobs, oldest.ID)
	}
}
