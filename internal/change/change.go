// Package change is the change engine (C8): for each completed Snapshot,
// diffs its per-space occupancy against the previous Snapshot for the same
// camera and writes the resulting ChangeRecord rows.
package change

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/chenqi146/parking-watch/internal/metrics"
	"github.com/chenqi146/parking-watch/internal/store"
)

// backoff is the fixed retry table from spec.md §4.4: up to 3 retries at
// 1s, 3s, 9s before a job is logged and abandoned (internal/nvr's
// NATSPublisher walks an analogous fixed table rather than computing one).
var backoff = []time.Duration{time.Second, 3 * time.Second, 9 * time.Second}

// Publisher is the best-effort notification channel for committed
// ChangeRecords. A nil Publisher (NATS_URL unset) disables publishing
// without affecting the store write, mirroring internal/nvr/nats_publisher.go's
// role as a side channel rather than the record of truth.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes to a fixed subject over an existing NATS
// connection, grounded on internal/nvr/nats_publisher.go.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{conn: conn}
}

func (p *NATSPublisher) Publish(subject string, data []byte) error {
	return p.conn.Publish(subject, data)
}

// ChangeSubject is the NATS subject committed ChangeRecords are published
// on; internal/query subscribes to the same subject to drive its
// websocket push feed.
const ChangeSubject = "parking_watch.change"

// Engine runs the diff-and-record pipeline. It implements
// engine.ChangeEnqueuer.
type Engine struct {
	store     *store.Store
	publisher Publisher
}

func New(s *store.Store, publisher Publisher) *Engine {
	return &Engine{store: s, publisher: publisher}
}

// Enqueue runs the job asynchronously with its own retry loop; the caller
// (the execution engine) does not block on it and does not see its errors
// (spec.md §4.2 step 6: enqueueing is fire-and-forget).
func (e *Engine) Enqueue(snapshotID string) {
	go e.runWithRetry(snapshotID)
}

func (e *Engine) runWithRetry(snapshotID string) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := e.process(context.Background(), snapshotID); err != nil {
			lastErr = err
			if attempt >= len(backoff) {
				log.Printf("[change] snapshot %s: abandoning after %d attempts: %v", snapshotID, attempt+1, lastErr)
				return
			}
			time.Sleep(backoff[attempt])
			continue
		}
		return
	}
}

// process computes and commits the ChangeRecords for one Snapshot
// (spec.md §4.4). Any error is treated as transient and retried by the
// caller.
func (e *Engine) process(ctx context.Context, snapshotID string) error {
	snap, err := e.store.Snapshots.GetByID(ctx, snapshotID)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	task, err := e.store.Tasks.GetByID(ctx, snap.TaskID)
	if err != nil {
		return fmt.Errorf("load owning task: %w", err)
	}
	currStates, err := e.store.Snapshots.SpaceStates(ctx, snapshotID)
	if err != nil {
		return fmt.Errorf("load current space states: %w", err)
	}

	prev, err := e.store.Snapshots.PreviousForCombo(ctx, task.IP, task.Channel, snapshotID)
	noPrev := err == store.ErrRecordNotFound
	if err != nil && !noPrev {
		return fmt.Errorf("load previous snapshot: %w", err)
	}

	var prevStatesByID map[string]*store.SpaceState
	if !noPrev {
		prevStates, err := e.store.Snapshots.SpaceStates(ctx, prev.ID)
		if err != nil {
			return fmt.Errorf("load previous space states: %w", err)
		}
		prevStatesByID = make(map[string]*store.SpaceState, len(prevStates))
		for _, st := range prevStates {
			prevStatesByID[st.SpaceID] = st
		}
	}

	records := make([]*store.ChangeRecord, 0, len(currStates))
	changeCount := 0
	for _, curr := range currStates {
		var prevOccupied store.Occupancy
		var prevSnapshotID *string
		changeType := store.ChangeNone

		if !noPrev {
			prevSnapshotID = &prev.ID
			if ps, ok := prevStatesByID[curr.SpaceID]; ok {
				prevOccupied = ps.Occupied
			} else {
				prevOccupied = store.OccupancyUnknown
			}
			changeType = classify(prevOccupied, curr.Occupied)
		}
		// else: first-ever snapshot for this combo — prevOccupied stays
		// OccupancyUnknown, prevSnapshotID stays nil, changeType stays
		// ChangeNone regardless of curr (spec.md §4.4).

		if changeType != store.ChangeNone {
			changeCount++
		}

		records = append(records, &store.ChangeRecord{
			CurrentSnapshotID:   snapshotID,
			PreviousSnapshotID:  prevSnapshotID,
			SpaceID:             curr.SpaceID,
			PrevOccupied:        prevOccupied,
			CurrOccupied:        curr.Occupied,
			ChangeType:          changeType,
			DetectionConfidence: curr.Confidence,
			DetectedAt:          snap.DetectedAt,
		})
	}

	err = e.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.store.Changes.InsertManyTx(ctx, tx, records); err != nil {
			return err
		}
		return e.store.Snapshots.SetChangeCountTx(ctx, tx, snapshotID, changeCount)
	})
	if err != nil {
		return fmt.Errorf("commit change records: %w", err)
	}

	for _, r := range records {
		metrics.RecordChange(r.ChangeType)
	}
	e.publish(records)
	return nil
}

// classify implements spec.md §4.4's truth table. It is only called when a
// previous snapshot exists for the combo. The prev==Unknown branch (the
// previous snapshot recorded no verdict for this space) is checked first, so
// an "unknown, unknown" pair resolves to ChangeNone rather than falling
// through to the "any, null -> unknown" row.
func classify(prev, curr store.Occupancy) string {
	switch {
	case prev == store.OccupancyUnknown:
		if curr == store.OccupancyUnknown {
			return store.ChangeNone
		}
		return store.ChangeUnknown
	case curr == store.OccupancyUnknown:
		return store.ChangeUnknown
	case prev == store.OccupancyFalse && curr == store.OccupancyTrue:
		return store.ChangeArrive
	case prev == store.OccupancyTrue && curr == store.OccupancyFalse:
		return store.ChangeLeave
	default:
		return store.ChangeNone
	}
}

// publish is best-effort: failures are logged, never surfaced to the
// caller, matching internal/nvr/nats_publisher.go's role as a side channel.
func (e *Engine) publish(records []*store.ChangeRecord) {
	if e.publisher == nil {
		return
	}
	for _, r := range records {
		if r.ChangeType == store.ChangeNone {
			continue
		}
		data, err := json.Marshal(r)
		if err != nil {
			log.Printf("[change] marshal record %s: %v", r.ID, err)
			continue
		}
		if err := e.publisher.Publish(ChangeSubject, data); err != nil {
			log.Printf("[change] publish record %s: %v", r.ID, err)
		}
	}
}
