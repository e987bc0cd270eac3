// Package scheduler is the scheduler (C9): drives capture work from three
// triggers — recurring auto rules, explicit run-now requests, and reruns
// of existing tasks.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/chenqi146/parking-watch/internal/clock"
	"github.com/chenqi146/parking-watch/internal/planner"
	"github.com/chenqi146/parking-watch/internal/store"
)

// Submitter hands a ready task off to the execution engine. Satisfied by
// *engine.Engine.
type Submitter interface {
	Submit(taskID string)
}

// Scheduler ticks every 30s over enabled AutoRules and exposes explicit
// run-now/rerun entry points (spec.md §4.5).
type Scheduler struct {
	store   *store.Store
	planner *planner.Planner
	clock   *clock.Clock
	submit  Submitter

	mu   sync.Mutex
	seen map[string]string // rule_id -> last-fired wall-minute, cleared daily
	day  string
}

func New(s *store.Store, p *planner.Planner, c *clock.Clock, submit Submitter) *Scheduler {
	return &Scheduler{
		store:   s,
		planner: p,
		clock:   c,
		submit:  submit,
		seen:    make(map[string]string),
		day:     c.Today(),
	}
}

// Start runs the 30s auto-rule tick until stop closes (spec.md §4.5).
func (s *Scheduler) Start(stop <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

// tick fires any enabled AutoRule whose trigger_time matches the current
// wall-minute and that has not already fired this minute.
func (s *Scheduler) tick() {
	ctx := context.Background()
	now := s.clock.Now()

	s.mu.Lock()
	if today := s.clock.Today(); today != s.day {
		s.day = today
		s.seen = make(map[string]string)
	}
	s.mu.Unlock()

	rules, err := s.store.AutoRules.ListEnabled(ctx)
	if err != nil {
		log.Printf("[scheduler] list enabled auto rules: %v", err)
		return
	}

	currentMinute := s.clock.WallMinute(now)
	for _, rule := range rules {
		if rule.TriggerTime != s.clock.HHMM(now) {
			continue
		}

		s.mu.Lock()
		already := s.seen[rule.ID] == currentMinute
		if !already {
			s.seen[rule.ID] = currentMinute
		}
		s.mu.Unlock()
		if already {
			continue
		}

		s.fireRule(ctx, rule, now)
	}
}

func (s *Scheduler) fireRule(ctx context.Context, rule *store.AutoRule, now time.Time) {
	if err := s.store.AutoRules.MarkRunning(ctx, rule.ID); err != nil {
		log.Printf("[scheduler] rule %s: mark running: %v", rule.ID, err)
	}

	day := s.clock.Today()
	if !rule.UseToday {
		if rule.CustomDate == nil {
			s.finishRule(ctx, rule.ID, fmt.Errorf("rule has neither use_today nor custom_date set"))
			return
		}
		day = *rule.CustomDate
	}

	n, err := s.submitPlanned(ctx, day, rule.BaseRTSP, rule.Channel, rule.IntervalMinutes, true)
	if err != nil {
		s.finishRule(ctx, rule.ID, err)
		return
	}

	log.Printf("[scheduler] rule %s fired for %s: submitted %d task(s)", rule.ID, day, n)
	s.finishRule(ctx, rule.ID, nil)
}

func (s *Scheduler) finishRule(ctx context.Context, ruleID string, runErr error) {
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if err := s.store.AutoRules.MarkExecuted(ctx, ruleID, runErr == nil, errMsg); err != nil {
		log.Printf("[scheduler] rule %s: mark executed: %v", ruleID, err)
	}
}

// RunNow materializes day's tasks for (base_rtsp, channel, interval) and
// submits every resulting pending|failed|screenshot_taken task (spec.md
// §4.5's explicit run-now trigger).
func (s *Scheduler) RunNow(ctx context.Context, day, baseRTSP, channel string, intervalMinutes int) (int, error) {
	return s.submitPlanned(ctx, day, baseRTSP, channel, intervalMinutes, false)
}

// submitPlanned materializes day's tasks and submits the due ones. The
// auto-rule trigger (spec.md §4.5) only submits every resulting pending
// task; re-running a daily rule must not re-claim tasks a prior fire (or a
// manual rerun) already screenshotted or that are mid-retry as failed, so
// pendingOnly is set true from fireRule. RunNow is the explicit operator
// trigger and keeps the wider pending|failed|screenshot_taken set.
func (s *Scheduler) submitPlanned(ctx context.Context, day, baseRTSP, channel string, intervalMinutes int, pendingOnly bool) (int, error) {
	if _, err := s.planner.Plan(ctx, day, baseRTSP, channel, intervalMinutes); err != nil {
		return 0, err
	}

	ip, err := planner.IPFromBaseRTSP(baseRTSP)
	if err != nil {
		return 0, err
	}
	tasks, err := s.store.Tasks.DueForCombo(ctx, ip, channel)
	if err != nil {
		return 0, fmt.Errorf("list due tasks: %w", err)
	}
	submitted := 0
	for _, t := range tasks {
		if t.Date != day {
			continue
		}
		if pendingOnly && t.Status != store.TaskPending {
			continue
		}
		s.submit.Submit(t.ID)
		submitted++
	}
	return submitted, nil
}

// RerunTask re-arms a single task (by id) to pending, unless it is
// currently playing, and submits it (spec.md §4.5).
func (s *Scheduler) RerunTask(ctx context.Context, taskID string) error {
	ok, err := s.store.Tasks.Rearm(ctx, taskID)
	if err != nil {
		return fmt.Errorf("rearm task %s: %w", taskID, err)
	}
	if ok {
		s.submit.Submit(taskID)
	}
	return nil
}

// RerunMatching re-arms and submits every non-playing task for date, and
// optionally ip and/or channel (spec.md §4.5's predicate rerun).
func (s *Scheduler) RerunMatching(ctx context.Context, date string, ip, channel *string) (int, error) {
	ids, err := s.store.Tasks.RearmMatching(ctx, date, ip, channel)
	if err != nil {
		return 0, fmt.Errorf("rearm matching: %w", err)
	}
	for _, id := range ids {
		s.submit.Submit(id)
	}
	return len(ids), nil
}

