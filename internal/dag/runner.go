package dag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/audible-etl/internal/logger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Runner executes a DAG once. Tasks whose upstream tasks all succeeded run
// concurrently, up to maxParallel at a time. There are no retries.
type Runner struct {
	store       RunStore
	maxParallel int
}

// NewRunner creates a runner recording state transitions in store.
// A nil store gets an in-memory one.
func NewRunner(store RunStore, maxParallel int) *Runner {
	if store == nil {
		store = NewMemoryStore()
	}
	if maxParallel <= 0 {
		maxParallel = 1
	}
	return &Runner{store: store, maxParallel: maxParallel}
}

// RunResult holds the final state of every task of one DAG run.
type RunResult struct {
	RunID string
	Order []string
	Tasks map[string]*TaskRun
}

// Failed returns the IDs of tasks that failed, in topological order.
func (r *RunResult) Failed() []string {
	var out []string
	for _, id := range r.Order {
		if r.Tasks[id].State == TaskStateFailed {
			out = append(out, id)
		}
	}
	return out
}

// Succeeded reports whether every task succeeded.
func (r *RunResult) Succeeded() bool {
	for _, tr := range r.Tasks {
		if tr.State != TaskStateSuccess {
			return false
		}
	}
	return true
}

type runIDKey struct{}

// RunIDFromContext returns the DAG run ID a task is executing under.
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Run validates d and executes it to completion. A failing task marks everything
// downstream of it upstream_failed; independent branches still run. The returned
// error joins the errors of all failed tasks.
func (r *Runner) Run(ctx context.Context, d *DAG) (*RunResult, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	order, _ := d.Order()

	runID := uuid.NewString()
	ctx = context.WithValue(ctx, runIDKey{}, runID)
	ctx = logger.WithContext(ctx, logger.FromContext(ctx).With().Str("dag_id", d.ID).Logger())
	log := logger.FromContext(ctx).With().Str("run_id", runID).Logger()

	res := &RunResult{RunID: runID, Order: order, Tasks: make(map[string]*TaskRun, len(order))}
	var mu sync.Mutex
	errs := make(map[string]error)

	save := func(tr *TaskRun) {
		if err := r.store.SaveTaskRun(ctx, tr); err != nil {
			log.Warn().Err(err).Str("task_id", tr.TaskID).Msg("Failed to record task state")
		}
	}

	for _, id := range order {
		tr := &TaskRun{RunID: runID, TaskID: id, State: TaskStatePending}
		res.Tasks[id] = tr
		save(tr)
	}

	log.Info().Strs("order", order).Msg("Starting DAG run")

	for {
		var ready []*Task
		for _, id := range order {
			tr := res.Tasks[id]
			if tr.State.Terminal() {
				continue
			}
			t := d.Task(id)
			blocked, upFailed := false, false
			for _, up := range t.Upstream {
				switch res.Tasks[up].State {
				case TaskStateSuccess:
				case TaskStateFailed, TaskStateUpstreamFailed:
					upFailed = true
				default:
					blocked = true
				}
			}
			switch {
			case upFailed:
				now := time.Now()
				tr.State = TaskStateUpstreamFailed
				tr.CompletedAt = &now
				save(tr)
				log.Warn().Str("task_id", id).Msg("Skipping task: upstream failed")
			case !blocked:
				ready = append(ready, t)
			}
		}
		if len(ready) == 0 {
			break
		}

		if err := ctx.Err(); err != nil {
			for _, t := range ready {
				tr := res.Tasks[t.ID]
				now := time.Now()
				tr.State = TaskStateFailed
				tr.CompletedAt = &now
				tr.Error = err.Error()
				errs[t.ID] = err
				save(tr)
			}
			continue
		}

		var g errgroup.Group
		g.SetLimit(r.maxParallel)
		for _, t := range ready {
			t := t
			g.Go(func() error {
				mu.Lock()
				tr := res.Tasks[t.ID]
				started := time.Now()
				tr.State = TaskStateRunning
				tr.StartedAt = &started
				save(tr)
				mu.Unlock()

				tlog := logger.ForTask(ctx, runID, t.ID)
				tlog.Info().Msg("Task started")

				err := t.Run(logger.WithContext(ctx, tlog))

				mu.Lock()
				defer mu.Unlock()
				completed := time.Now()
				tr.CompletedAt = &completed
				if err != nil {
					tr.State = TaskStateFailed
					tr.Error = err.Error()
					errs[t.ID] = err
					tlog.Error().Err(err).Dur("duration", tr.Duration()).Msg("Task failed")
				} else {
					tr.State = TaskStateSuccess
					tlog.Info().Dur("duration", tr.Duration()).Msg("Task succeeded")
				}
				save(tr)
				return nil
			})
		}
		_ = g.Wait()
	}

	failed := res.Failed()
	if len(failed) == 0 {
		log.Info().Msg("DAG run succeeded")
		return res, nil
	}

	joined := make([]error, 0, len(failed))
	for _, id := range failed {
		joined = append(joined, fmt.Errorf("task %s: %w", id, errs[id]))
	}
	log.Error().Strs("failed", failed).Msg("DAG run failed")
	return res, fmt.Errorf("dag %s run %s: %d task(s) failed (%s): %w",
		d.ID, runID, len(failed), strings.Join(failed, ", "), errors.Join(joined...))
}
