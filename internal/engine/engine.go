// Package engine is the execution engine (C7): runs the capture pipeline
// for submitted tasks under a two-layer (global, per-combo) concurrency
// limit, with transport retries and a deadline reaper.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/chenqi146/parking-watch/internal/blob"
	"github.com/chenqi146/parking-watch/internal/config"
	"github.com/chenqi146/parking-watch/internal/detector"
	"github.com/chenqi146/parking-watch/internal/metrics"
	"github.com/chenqi146/parking-watch/internal/rtsp"
	"github.com/chenqi146/parking-watch/internal/store"
)

// ChangeEnqueuer hands a completed Snapshot off to the change engine (C8).
// Submission is best-effort from the engine's point of view: spec.md §4.2
// step 6 only requires the job be enqueued, not that it complete before the
// permits are released.
type ChangeEnqueuer interface {
	Enqueue(snapshotID string)
}

// Engine runs the per-task capture pipeline described in spec.md §4.2.
type Engine struct {
	store   *store.Store
	blobs   *blob.Store
	decoder rtsp.Decoder
	detect  detector.Detector
	changes ChangeEnqueuer
	cfg     *config.Config

	global  chan struct{}
	comboMu sync.Mutex
	combos  map[string]chan struct{}

	draining chan struct{}
	wg       sync.WaitGroup
}

func New(s *store.Store, blobs *blob.Store, decoder rtsp.Decoder, det detector.Detector, changes ChangeEnqueuer, cfg *config.Config) *Engine {
	t := cfg.Current()
	return &Engine{
		store:    s,
		blobs:    blobs,
		decoder:  decoder,
		detect:   det,
		changes:  changes,
		cfg:      cfg,
		global:   make(chan struct{}, maxInt(t.MaxComboConcurrency, 1)),
		combos:   make(map[string]chan struct{}),
		draining: make(chan struct{}),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func comboKey(ip, channel string) string {
	return ip + "/" + strings.ToLower(channel)
}

func (e *Engine) comboSem(ip, channel string) chan struct{} {
	key := comboKey(ip, channel)
	e.comboMu.Lock()
	defer e.comboMu.Unlock()
	sem, ok := e.combos[key]
	if !ok {
		sem = make(chan struct{}, maxInt(e.cfg.Current().MaxWorkersPerCombo, 1))
		e.combos[key] = sem
	}
	return sem
}

// Submit runs task id's pipeline in a new goroutine. It is a no-op once the
// engine is draining.
func (e *Engine) Submit(id string) {
	select {
	case <-e.draining:
		return
	default:
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(id)
	}()
}

// run acquires Global then PerCombo permits (in that order, spec.md §4.2),
// releasing both in reverse on any exit path.
func (e *Engine) run(id string) {
	task, err := e.store.Tasks.GetByID(context.Background(), id)
	if err != nil {
		log.Printf("[engine] task %s: lookup failed: %v", id, err)
		return
	}

	select {
	case e.global <- struct{}{}:
	case <-e.draining:
		return
	}
	metrics.GlobalPermitsInUse.Inc()
	defer func() { <-e.global; metrics.GlobalPermitsInUse.Dec() }()

	key := comboKey(task.IP, task.Channel)
	sem := e.comboSem(task.IP, task.Channel)
	select {
	case sem <- struct{}{}:
	case <-e.draining:
		return
	}
	metrics.ComboPermitsInUse.WithLabelValues(key).Inc()
	defer func() { <-sem; metrics.ComboPermitsInUse.WithLabelValues(key).Dec() }()

	e.execute(task)
}

// execute is the per-task pipeline: claim, decode, persist, detect,
// transactionally complete, enqueue change (spec.md §4.2 steps 1-6). The
// whole pipeline runs under a wall-deadline of max(30s, factor x
// task_duration) from the moment it enters playing (spec.md §9); exceeding
// it cancels the RTSP read/detector call and fails the task with
// error="deadline".
func (e *Engine) execute(task *store.Task) {
	claimed, err := e.store.Tasks.ClaimPlaying(context.Background(), task.ID)
	if err != nil {
		log.Printf("[engine] task %s: claim error: %v", task.ID, err)
		return
	}
	if !claimed {
		return
	}
	metrics.TasksInFlight.Inc()
	defer metrics.TasksInFlight.Dec()

	tunables := e.cfg.Current()
	taskDuration := time.Duration(task.EndTS-task.StartTS+1) * time.Second

	wallDeadline := time.Duration(tunables.TaskDeadlineFactor) * taskDuration
	if wallDeadline < 30*time.Second {
		wallDeadline = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), wallDeadline)
	defer cancel()

	readTimeout := taskDuration
	if readTimeout > 30*time.Second {
		readTimeout = 30 * time.Second
	}
	connectTimeout := time.Duration(tunables.RTSPConnectTimeoutSec) * time.Second

	frame, err := e.decodeWithRetry(ctx, task.RTSPURL, connectTimeout, readTimeout, tunables.TaskRetryCount)
	if err != nil {
		errMsg := err.Error()
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			errMsg = "deadline"
		case err == errTimeout:
			errMsg = "timeout"
		}
		e.fail(task.ID, errMsg)
		return
	}

	imagePath := blob.ImagePath(task.Date, task.IP, task.StartTS, task.EndTS, task.Channel)
	if err := e.blobs.Put(imagePath, frame.JPEG); err != nil {
		e.fail(task.ID, fmt.Sprintf("blob write: %v", err))
		return
	}

	spaces, err := e.store.Spaces.ListByIPChannel(ctx, task.IP, task.Channel)
	if err != nil {
		e.fail(task.ID, fmt.Sprintf("list spaces: %v", err))
		return
	}

	detInputs := make([]detector.SpaceInput, 0, len(spaces))
	for _, sp := range spaces {
		detInputs = append(detInputs, detector.SpaceInput{
			SpaceID:   sp.SpaceID,
			SpaceName: sp.SpaceName,
			RefBBox:   detector.BBox{X1: sp.X1, Y1: sp.Y1, X2: sp.X2, Y2: sp.Y2},
		})
	}

	inferStart := time.Now()
	results, err := e.detect.Infer(ctx, frame.JPEG, frame.Width, frame.Height, detInputs)
	metrics.ObserveDetectorLatency(float64(time.Since(inferStart).Milliseconds()))
	if err != nil {
		e.fail(task.ID, fmt.Sprintf("detector: %v", err))
		return
	}

	detectedImagePath := blob.DetectedImagePath(task.Date, task.IP, task.StartTS, task.EndTS, task.Channel)
	annotated, err := detector.Annotate(frame.JPEG, detInputs, results, tunables.ReferenceWidth, tunables.ReferenceHeight)
	if err != nil {
		e.fail(task.ID, fmt.Sprintf("annotate: %v", err))
		return
	}
	if err := e.blobs.Put(detectedImagePath, annotated); err != nil {
		e.fail(task.ID, fmt.Sprintf("blob write detected: %v", err))
		return
	}

	snap := &store.Snapshot{
		TaskID:            task.ID,
		ImagePath:         imagePath,
		DetectedImagePath: detectedImagePath,
	}
	states := make([]*store.SpaceState, 0, len(results))
	for _, r := range results {
		states = append(states, &store.SpaceState{
			SpaceID:    r.SpaceID,
			Occupied:   toOccupancy(r.Occupied),
			Confidence: r.Confidence,
		})
	}

	err = e.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.store.Snapshots.CreateTx(ctx, tx, snap, states); err != nil {
			return err
		}
		return e.store.Tasks.CompleteTx(ctx, tx, task.ID, imagePath)
	})
	if err != nil {
		e.fail(task.ID, fmt.Sprintf("commit snapshot: %v", err))
		return
	}

	if e.changes != nil {
		e.changes.Enqueue(snap.ID)
	}
	metrics.RecordTaskOutcome("success")
}

// fail marks a task failed on a fresh background context: the task's own
// wall-deadline context may already be cancelled by the time a failure is
// recorded, and the write must still go through.
func (e *Engine) fail(id, msg string) {
	if err := e.store.Tasks.MarkFailed(context.Background(), id, msg); err != nil {
		log.Printf("[engine] task %s: mark failed error: %v", id, err)
	}
	outcome := "failed"
	if msg == "deadline" {
		outcome = "deadline"
	}
	metrics.RecordTaskOutcome(outcome)
}

func toOccupancy(b *bool) store.Occupancy {
	if b == nil {
		return store.OccupancyUnknown
	}
	if *b {
		return store.OccupancyTrue
	}
	return store.OccupancyFalse
}

var errTimeout = fmt.Errorf("rtsp read timeout")

// decodeWithRetry opens the stream and reads one frame, retrying transient
// transport failures up to retries times with a 2s backoff (spec.md §4.2);
// decoder failures are never retried.
func (e *Engine) decodeWithRetry(ctx context.Context, url string, connectTimeout, readTimeout time.Duration, retries int) (rtsp.Frame, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			time.Sleep(2 * time.Second)
		}

		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		stream, err := e.decoder.Open(connectCtx, url)
		cancel()
		if err != nil {
			if errors.Is(err, rtsp.ErrTransient) {
				lastErr = err
				continue
			}
			return rtsp.Frame{}, err
		}

		readCtx, cancel := context.WithTimeout(ctx, readTimeout)
		frame, err := stream.ReadFrame(readCtx)
		cancel()
		stream.Close()

		if err == nil {
			return frame, nil
		}
		if errors.Is(err, rtsp.ErrTransient) || readCtx.Err() != nil {
			lastErr = errTimeout
			continue
		}
		return rtsp.Frame{}, err
	}
	return rtsp.Frame{}, lastErr
}

// reaperMultiplier/reaperExtraSeconds are the "6 x task_duration + 60s"
// second-layer deadline from spec.md §4.2 — fixed, unlike the per-task
// wall-deadline's configurable TaskDeadlineFactor (spec.md §9), since this
// sweep exists to recover tasks whose executor died outright rather than
// to bound a live pipeline's own retries.
const (
	reaperMultiplier   = 6
	reaperExtraSeconds = 60
)

// StartReaper runs the stale-playing sweep every 15s until stop closes.
func (e *Engine) StartReaper(stop <-chan struct{}) {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				e.sweep()
			}
		}
	}()
}

func (e *Engine) sweep() {
	ids, err := e.store.Tasks.SweepStalePlaying(context.Background(), reaperMultiplier, reaperExtraSeconds)
	if err != nil {
		log.Printf("[engine] reaper sweep error: %v", err)
		return
	}
	for _, id := range ids {
		log.Printf("[engine] reaper recovered stale task %s", id)
	}
}

// Drain stops accepting new submissions and waits up to 15s for in-flight
// tasks to finish (spec.md §4.2 cancellation). Tasks still running after
// the grace period are abandoned; the deadline reaper recovers them.
func (e *Engine) Drain() {
	close(e.draining)
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
	}
}
