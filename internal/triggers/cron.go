// Package triggers adapts external schedule producers into
// scheduler.ScheduleWorkflow calls. It is deliberately outside the core
// scheduling loop: per the Design Note, recurring triggers are "yet
// another producer of schedule_workflow calls, not a separate execution
// path," so this package holds no state the scheduler itself needs to
// know about.
package triggers

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/swarmguard/fluxion/internal/model"
)

// Scheduler is the subset of scheduler.Scheduler a cron trigger needs.
type Scheduler interface {
	ScheduleWorkflow(ctx context.Context, workflowName string, initialContext map[string]any) (model.ID, error)
}

// CronTrigger runs a set of cron-style recurring schedule_workflow calls.
type CronTrigger struct {
	cron   *cron.Cron
	sched  Scheduler
	logger *slog.Logger
}

// NewCronTrigger constructs a CronTrigger bound to sched.
func NewCronTrigger(sched Scheduler, logger *slog.Logger) *CronTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &CronTrigger{cron: cron.New(), sched: sched, logger: logger.With("component", "cron_trigger")}
}

// AddSchedule registers a cron spec that schedules workflowName with
// initialContext on every tick. Returns the entry id for later removal.
func (t *CronTrigger) AddSchedule(spec, workflowName string, initialContext map[string]any) (cron.EntryID, error) {
	return t.cron.AddFunc(spec, func() {
		ctx := context.Background()
		pipelineID, err := t.sched.ScheduleWorkflow(ctx, workflowName, initialContext)
		if err != nil {
			t.logger.Error("cron-triggered schedule failed", "workflow", workflowName, "error", err)
			return
		}
		t.logger.Info("cron triggered workflow", "workflow", workflowName, "pipeline_execution_id", pipelineID.String())
	})
}

// RemoveSchedule cancels a previously added schedule.
func (t *CronTrigger) RemoveSchedule(id cron.EntryID) { t.cron.Remove(id) }

// Start begins firing scheduled entries in a background goroutine.
func (t *CronTrigger) Start() { t.cron.Start() }

// Stop halts the cron loop, waiting for any in-flight entry to finish.
func (t *CronTrigger) Stop() context.Context { return t.cron.Stop() }
