// Package blob is the filesystem blob store (C3): writes and reads image
// bytes under a logical path, full-object puts only (no partial-file
// readers, spec.md §5).
package blob

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chenqi146/parking-watch/internal/platform/paths"
)

// Store writes/reads screenshot bytes under root, matching the blob path
// grammar in spec.md §6:
// <root>/<YYYY-MM-DD>/<ip_underscored>_<start_ts>_<end_ts>_<channel>.jpg
// Annotated variants append "_detected" before the extension.
type Store struct {
	root string
}

func New(root string) *Store {
	return &Store{root: root}
}

// ImagePath returns the relative screenshot path for one capture window.
func ImagePath(day, ip string, startTS, endTS int64, channel string) string {
	return filepath.Join(day, fmt.Sprintf("%s_%d_%d_%s.jpg", underscoreIP(ip), startTS, endTS, channel))
}

// DetectedImagePath returns the relative annotated-frame path for the same
// capture window.
func DetectedImagePath(day, ip string, startTS, endTS int64, channel string) string {
	return filepath.Join(day, fmt.Sprintf("%s_%d_%d_%s_detected.jpg", underscoreIP(ip), startTS, endTS, channel))
}

func underscoreIP(ip string) string {
	return strings.ReplaceAll(ip, ".", "_")
}

// Put writes data at relPath under root, creating parent directories as
// needed. Writes are full-object (a temp-file-then-rename would be the
// next step but is not required by spec.md's "full-object puts" policy).
func (s *Store) Put(relPath string, data []byte) error {
	abs, err := paths.SafeJoin(s.root, splitElements(relPath)...)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0750); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}
	if err := os.WriteFile(abs, data, 0640); err != nil {
		return fmt.Errorf("write blob %s: %w", relPath, err)
	}
	return nil
}

// Get reads the full object at relPath under root.
func (s *Store) Get(relPath string) ([]byte, error) {
	abs, err := paths.SafeJoin(s.root, splitElements(relPath)...)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// Exists reports whether relPath is present under root without reading its
// contents, used by the query facade's "missing" computation (spec.md
// §4.7).
func (s *Store) Exists(relPath string) bool {
	abs, err := paths.SafeJoin(s.root, splitElements(relPath)...)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// ModTime returns the last-write time of relPath, used to age a cached
// "missing" verdict.
func (s *Store) ModTime(relPath string) (time.Time, error) {
	abs, err := paths.SafeJoin(s.root, splitElements(relPath)...)
	if err != nil {
		return time.Time{}, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

func splitElements(relPath string) []string {
	return strings.Split(filepath.ToSlash(relPath), "/")
}
