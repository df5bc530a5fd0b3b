package batch

import (
	"sync"
	"time"

	"github.com/entrhq/gridscout/pkg/types"
	"github.com/google/uuid"
)

// Result is the outcome of one batch unit.
type Result = types.ScriptResult

// Job aggregates a batch. Counters are only changed by the runner's
// completion handler, under mu. Completed == Successful+Failed at all
// times and never decreases.
type Job struct {
	mu sync.Mutex

	ID            string
	MaxConcurrent int
	Total         int
	Completed     int
	Successful    int
	Failed        int
	TotalRows     int
	Results       []Result
	StartedAt     time.Time
	FinishedAt    time.Time
}

func newJob(total, maxConcurrent int) *Job {
	return &Job{
		ID:            uuid.New().String(),
		MaxConcurrent: maxConcurrent,
		Total:         total,
		StartedAt:     time.Now(),
	}
}

func (j *Job) complete(r Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Completed++
	if r.Success {
		j.Successful++
		j.TotalRows += r.RowCount
	} else {
		j.Failed++
	}
	j.Results = append(j.Results, r)
}

func (j *Job) finish() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.FinishedAt = time.Now()
}

// Summary is a consistent copy of a Job's counters.
type Summary struct {
	ID         string   `json:"id"`
	Total      int      `json:"total"`
	Completed  int      `json:"completed"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	TotalRows  int      `json:"total_rows"`
	Results    []Result `json:"results"`
}

// Summary returns a copy of the counters taken under the job's lock.
func (j *Job) Summary() Summary {
	j.mu.Lock()
	defer j.mu.Unlock()
	results := make([]Result, len(j.Results))
	copy(results, j.Results)
	return Summary{
		ID:         j.ID,
		Total:      j.Total,
		Completed:  j.Completed,
		Successful: j.Successful,
		Failed:     j.Failed,
		TotalRows:  j.TotalRows,
		Results:    results,
	}
}
