package triggers

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/swarmguard/fluxion/internal/model"
)

type fakeScheduler struct {
	calls atomic.Int32
}

func (f *fakeScheduler) ScheduleWorkflow(ctx context.Context, workflowName string, initialContext map[string]any) (model.ID, error) {
	f.calls.Add(1)
	return model.NewID(), nil
}

func TestCronTriggerFiresScheduleWorkflow(t *testing.T) {
	sched := &fakeScheduler{}
	trig := NewCronTrigger(sched, nil)
	if _, err := trig.AddSchedule("@every 10ms", "heartbeat", nil); err != nil {
		t.Fatalf("add schedule: %v", err)
	}
	trig.Start()
	defer func() { <-trig.Stop().Done() }()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if sched.calls.Load() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected at least one cron-triggered schedule call")
}
