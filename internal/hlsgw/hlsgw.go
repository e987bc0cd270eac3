// Package hlsgw is the HLS manager (C10): spawns, reuses, and idle-reaps
// RTSP→HLS ffmpeg child processes keyed by a fingerprint of the RTSP URL,
// independent of the capture pipeline (spec.md §4.6).
package hlsgw

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chenqi146/parking-watch/internal/metrics"
	"github.com/chenqi146/parking-watch/internal/ratelimit"
)

const (
	reapInterval        = 15 * time.Second
	deletionDelay       = 30 * time.Second
	spawnDeathWindow    = 2 * time.Second
	spawnFailureWindow  = 10 * time.Second
	spawnRetryAfterFail = 2 * time.Second
)

// session is one live transcoder child, grounded on other_examples'
// RTSPService.StreamInfo/activeStreams shape, adapted from a per-camera
// key to a per-fingerprint key and from "restart forever" to "reap after
// idle timeout".
type session struct {
	cmd        *exec.Cmd
	outputDir  string
	lastAccess atomic.Int64 // unix nanos

	mu          sync.Mutex
	dead        bool
	recentFails []time.Time
}

func (s *session) touch() {
	s.lastAccess.Store(time.Now().UnixNano())
}

func (s *session) idleSince() time.Duration {
	return time.Since(time.Unix(0, s.lastAccess.Load()))
}

// Manager is the fingerprint registry (spec.md §4.6/§4.8): one mutex guards
// map lookup/insert, a sync.Map of per-fingerprint mutexes serializes
// spawns so concurrent start() calls for the same URL converge on one
// child.
type Manager struct {
	root        string
	idleTimeout time.Duration
	limiter     *ratelimit.Limiter

	mu         sync.Mutex
	sessions   map[string]*session
	spawnLocks sync.Map // fingerprint -> *sync.Mutex

	stop chan struct{}
}

func New(root string, idleTimeout time.Duration, limiter *ratelimit.Limiter) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = 60 * time.Second
	}
	m := &Manager{
		root:        root,
		idleTimeout: idleTimeout,
		limiter:     limiter,
		sessions:    make(map[string]*session),
		stop:        make(chan struct{}),
	}
	go m.reapLoop()
	return m
}

// Fingerprint is the deterministic key spec.md §4.6 asks for: a hash of
// the RTSP URL.
func Fingerprint(rtspURL string) string {
	sum := sha256.Sum256([]byte(rtspURL))
	return hex.EncodeToString(sum[:])[:16]
}

func (m *Manager) spawnLock(fingerprint string) *sync.Mutex {
	v, _ := m.spawnLocks.LoadOrStore(fingerprint, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Start returns the m3u8 path for rtspURL, spawning a transcoder child if
// none is alive, or reusing one last accessed within idleTimeout (spec.md
// §4.6). Concurrent calls for the same URL converge on the same child via
// the per-fingerprint spawn lock.
func (m *Manager) Start(ctx context.Context, rtspURL string) (string, error) {
	fp := Fingerprint(rtspURL)
	lock := m.spawnLock(fp)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	sess, ok := m.sessions[fp]
	m.mu.Unlock()

	if ok && !sess.isDead() && sess.idleSince() < m.idleTimeout {
		sess.touch()
		return m.playlistPath(fp), nil
	}

	if m.limiter != nil && sess != nil && sess.recentlyFailing() {
		decision, err := m.limiter.CheckRateLimit(ctx, "hls_spawn:"+fp, ratelimit.LimitConfig{
			Rate: 1, Window: spawnRetryAfterFail,
		})
		if err == nil && !decision.Allowed {
			return "", fmt.Errorf("hlsgw: spawn throttled for fingerprint %s, retry in %ds", fp, decision.RetryAfter)
		}
	}

	return m.spawn(fp, rtspURL, sess)
}

func (m *Manager) playlistPath(fingerprint string) string {
	return filepath.Join(m.root, fingerprint, "index.m3u8")
}

// spawn starts a new ffmpeg child for fingerprint, reusing prev's failure
// history (if any) across respawns so spawnFailureWindow tracking survives
// a dead-child replacement.
func (m *Manager) spawn(fingerprint, rtspURL string, prev *session) (string, error) {
	outputDir := filepath.Join(m.root, fingerprint)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("hlsgw: create output dir: %w", err)
	}
	playlist := filepath.Join(outputDir, "index.m3u8")

	cmd := exec.Command("ffmpeg",
		"-rtsp_transport", "tcp",
		"-i", rtspURL,
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-g", "30",
		"-sc_threshold", "0",
		"-f", "hls",
		"-hls_time", "2",
		"-hls_list_size", "6",
		"-hls_flags", "delete_segments+independent_segments+omit_endlist",
		"-hls_segment_filename", filepath.Join(outputDir, "segment_%03d.ts"),
		playlist,
	)

	sess := &session{outputDir: outputDir}
	if prev != nil {
		prev.mu.Lock()
		sess.recentFails = append([]time.Time(nil), prev.recentFails...)
		prev.mu.Unlock()
	}
	sess.touch()

	if err := cmd.Start(); err != nil {
		sess.recordFailure()
		return "", fmt.Errorf("hlsgw: start ffmpeg: %w", err)
	}
	sess.cmd = cmd

	spawnedAt := time.Now()
	go func() {
		err := cmd.Wait()
		sess.mu.Lock()
		sess.dead = true
		sess.mu.Unlock()
		if time.Since(spawnedAt) < spawnDeathWindow {
			sess.recordFailure()
			metrics.RecordHLSSpawnFailure()
			log.Printf("[hlsgw] fingerprint %s: child died within spawn window: %v", fingerprint, err)
		}
	}()

	m.mu.Lock()
	m.sessions[fingerprint] = sess
	n := len(m.sessions)
	m.mu.Unlock()
	metrics.SetHLSActiveSessions(n)

	return playlist, nil
}

func (s *session) isDead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dead
}

func (s *session) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.recentFails = append(s.recentFails, now)
	cutoff := now.Add(-spawnFailureWindow)
	kept := s.recentFails[:0]
	for _, t := range s.recentFails {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.recentFails = kept
}

func (s *session) recentlyFailing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recentFails) > 0
}

// reapLoop removes sessions idle past idleTimeout from the registry every
// reapInterval, then deletes their output directory after a grace delay
// so in-flight HLS GET requests don't 404 mid-segment (spec.md §4.6/§4.8).
func (m *Manager) reapLoop() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.reap()
		}
	}
}

func (m *Manager) reap() {
	m.mu.Lock()
	stale := make(map[string]*session)
	for fp, sess := range m.sessions {
		if sess.idleSince() > m.idleTimeout {
			stale[fp] = sess
		}
	}
	for fp := range stale {
		delete(m.sessions, fp)
	}
	n := len(m.sessions)
	m.mu.Unlock()
	metrics.SetHLSActiveSessions(n)

	for fp, sess := range stale {
		m.reapOne(fp, sess)
	}
}

func (m *Manager) reapOne(fingerprint string, sess *session) {
	if sess.cmd != nil && sess.cmd.Process != nil {
		sess.cmd.Process.Kill()
	}

	log.Printf("[hlsgw] reaped idle fingerprint %s", fingerprint)
	outputDir := sess.outputDir
	time.AfterFunc(deletionDelay, func() {
		if err := os.RemoveAll(outputDir); err != nil {
			log.Printf("[hlsgw] remove output dir %s: %v", outputDir, err)
		}
	})
}

// Stop ends the reap loop. Live children are left running; callers that
// want a clean shutdown should call Start's inverse (none exists — spec.md
// §4.6 has no explicit stop() operation) or simply let the process exit.
func (m *Manager) Stop() {
	close(m.stop)
}
