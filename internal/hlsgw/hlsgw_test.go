package hlsgw

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFingerprintIsStableAndURLSensitive(t *testing.T) {
	a := Fingerprint("rtsp://10.0.0.1:554/c1/b0/e599/replay/s1")
	b := Fingerprint("rtsp://10.0.0.1:554/c1/b0/e599/replay/s1")
	c := Fingerprint("rtsp://10.0.0.1:554/c1/b600/e1199/replay/s1")

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 16)
}

func TestSessionRecordFailurePrunesOldEntries(t *testing.T) {
	s := &session{}
	s.recentFails = []time.Time{time.Now().Add(-20 * time.Second)}
	s.recordFailure()

	require.True(t, s.recentlyFailing())
	require.Len(t, s.recentFails, 1) // the 20s-old entry aged out, only the fresh one remains
}

func TestSessionIdleSinceReflectsTouch(t *testing.T) {
	s := &session{}
	s.touch()
	require.Less(t, s.idleSince(), 100*time.Millisecond)
}

func TestManagerReapRemovesStaleSessionFromRegistry(t *testing.T) {
	m := New(t.TempDir(), 50*time.Millisecond, nil)
	defer m.Stop()

	sess := &session{outputDir: t.TempDir()}
	sess.lastAccess.Store(time.Now().Add(-time.Hour).UnixNano())

	m.mu.Lock()
	m.sessions["fp1"] = sess
	m.mu.Unlock()

	m.reap()

	m.mu.Lock()
	_, exists := m.sessions["fp1"]
	m.mu.Unlock()
	require.False(t, exists)
}

func TestManagerReapKeepsFreshSession(t *testing.T) {
	m := New(t.TempDir(), time.Hour, nil)
	defer m.Stop()

	sess := &session{outputDir: t.TempDir()}
	sess.touch()

	m.mu.Lock()
	m.sessions["fp1"] = sess
	m.mu.Unlock()

	m.reap()

	m.mu.Lock()
	_, exists := m.sessions["fp1"]
	m.mu.Unlock()
	require.True(t, exists)
}

func TestPlaylistPathMatchesBlobGrammar(t *testing.T) {
	m := New("/var/lib/parking-watch/hls", time.Minute, nil)
	defer m.Stop()
	require.Equal(t, "/var/lib/parking-watch/hls/abc123/index.m3u8", m.playlistPath("abc123"))
}
