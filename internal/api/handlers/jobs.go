package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// JobStatus is the last known state of a background job.
type JobStatus struct {
	Name       string    `json:"name"`
	Running    bool      `json:"running"`
	StartedBy  string    `json:"started_by,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Result     any       `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// jobSlot runs at most one instance of a job in the background.
type jobSlot struct {
	mu     sync.Mutex
	status JobStatus
	wg     sync.WaitGroup
}

// start launches fn unless the slot is busy. fn gets ctx, not the request context, so it outlives the request.
// startedBy is the token subject of the admin who asked for the run.
func (j *jobSlot) start(ctx context.Context, logger *slog.Logger, name, startedBy string, fn func(context.Context) (any, error)) (JobStatus, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Running {
		return j.status, false
	}

	j.status = JobStatus{Name: name, Running: true, StartedBy: startedBy, StartedAt: time.Now()}
	logger.Info("Jobs: job started", "job", name, "by", startedBy)
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		result, err := fn(ctx)

		j.mu.Lock()
		defer j.mu.Unlock()
		j.status.Running = false
		j.status.FinishedAt = time.Now()
		j.status.Result = result
		if err != nil {
			j.status.Error = err.Error()
			logger.Error("Jobs: job failed", "job", name, "err", err)
			return
		}
		logger.Info("Jobs: job finished", "job", name, "took", j.status.FinishedAt.Sub(j.status.StartedAt))
	}()
	return j.status, true
}

func (j *jobSlot) snapshot() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// wait blocks until the running job, if any, returns.
func (j *jobSlot) wait() {
	j.wg.Wait()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
