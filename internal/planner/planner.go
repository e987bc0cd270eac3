// Package planner is the task planner (C6): expands a TaskConfig request
// into the full day's worth of Task capture windows.
package planner

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/chenqi146/parking-watch/internal/clock"
	"github.com/chenqi146/parking-watch/internal/store"
)

var ErrInvalidInput = errors.New("planner: invalid input")

type Result struct {
	Created  int
	Existing int
	Total    int
}

type Planner struct {
	store *store.Store
	clock *clock.Clock
}

func New(s *store.Store, c *clock.Clock) *Planner {
	return &Planner{store: s, clock: c}
}

// Plan expands (day, base_rtsp, channel, interval_minutes) into the
// day's Task rows, idempotently. See spec.md §4.1.
func (p *Planner) Plan(ctx context.Context, day, baseRTSP, channel string, intervalMinutes int) (Result, error) {
	ip, err := validateBaseRTSP(baseRTSP)
	if err != nil {
		return Result{}, err
	}
	if intervalMinutes < 1 || intervalMinutes > 1440 {
		return Result{}, fmt.Errorf("%w: interval_minutes must be in [1,1440], got %d", ErrInvalidInput, intervalMinutes)
	}
	channel = strings.ToLower(strings.TrimSpace(channel))
	if channel == "" {
		return Result{}, fmt.Errorf("%w: channel is required", ErrInvalidInput)
	}

	dayStart, dayEnd, err := p.clock.DayBounds(day)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if _, err := p.store.TaskConfigs.Upsert(ctx, &store.TaskConfig{
		Date:            day,
		RTSPBase:        baseRTSP,
		Channel:         channel,
		IntervalMinutes: intervalMinutes,
		DayStartTS:      dayStart,
		DayEndTS:        dayEnd,
	}); err != nil {
		return Result{}, fmt.Errorf("upsert task config: %w", err)
	}

	step := int64(intervalMinutes) * 60
	var created, existing int

	for i, start := 0, dayStart; start < dayEnd+1; i, start = i+1, start+step {
		end := start + step - 1
		if end > dayEnd {
			end = dayEnd
		}

		rtspURL := fmt.Sprintf("%s/%s/b%d/e%d/replay/s1", baseRTSP, channel, start, end)

		wasCreated, err := p.store.Tasks.Insert(ctx, &store.Task{
			Date:    day,
			Index:   i,
			StartTS: start,
			EndTS:   end,
			RTSPURL: rtspURL,
			IP:      ip,
			Channel: channel,
			Status:  store.TaskPending,
		})
		if err != nil {
			return Result{}, fmt.Errorf("insert task %d: %w", i, err)
		}
		if wasCreated {
			created++
		} else {
			existing++
		}
	}

	return Result{Created: created, Existing: existing, Total: created + existing}, nil
}

// IPFromBaseRTSP exposes validateBaseRTSP's host extraction for callers
// outside this package (the scheduler's run-now/auto-rule paths need the
// same ip to look up DueForCombo tasks after Plan).
func IPFromBaseRTSP(base string) (string, error) {
	return validateBaseRTSP(base)
}

// validateBaseRTSP requires an "rtsp://host:port/" prefix (spec.md §4.1)
// and returns the bare host (no port) to store alongside each Task.
func validateBaseRTSP(base string) (ip string, err error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme != "rtsp" || u.Host == "" {
		return "", fmt.Errorf("%w: base_rtsp must look like rtsp://host:port, got %q", ErrInvalidInput, base)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("%w: base_rtsp missing host", ErrInvalidInput)
	}
	if u.Port() != "" {
		if _, err := strconv.Atoi(u.Port()); err != nil {
			return "", fmt.Errorf("%w: base_rtsp has a non-numeric port", ErrInvalidInput)
		}
	}
	return host, nil
}
