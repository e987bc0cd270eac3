package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveRoots(t *testing.T) {
	os.Unsetenv("PARKING_DATA_ROOT")
	os.Unsetenv("BLOB_ROOT")
	assert.Equal(t, DefaultDataRoot, ResolveDataRoot())
	assert.Equal(t, DefaultBlobRoot, ResolveBlobRoot())

	os.Setenv("PARKING_DATA_ROOT", "/custom/data")
	os.Setenv("BLOB_ROOT", "/custom/blobs")
	defer os.Unsetenv("PARKING_DATA_ROOT")
	defer os.Unsetenv("BLOB_ROOT")
	assert.Equal(t, "/custom/data", ResolveDataRoot())
	assert.Equal(t, "/custom/blobs", ResolveBlobRoot())
}

func TestSafeJoin(t *testing.T) {
	base := "/var/lib/parking-watch/blobs"

	cases := []struct {
		name     string
		elements []string
		valid    bool
	}{
		{"normal", []string{"2025-12-19", "10_0_0_1_100_200_c1.jpg"}, true},
		{"parent", []string{"..", "other"}, false},
		{"nested_parent", []string{"2025-12-19", "..", "..", "secrets"}, false},
		{"absolute", []string{"/etc/passwd"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := SafeJoin(base, tc.elements...)
			if tc.valid {
				assert.NoError(t, err)
				assert.Contains(t, res, base)
			} else {
				if assert.Error(t, err) {
					assert.Contains(t, err.Error(), "traversal")
				}
			}
		})
	}
}

func TestEnsureDirs(t *testing.T) {
	tmpRoot := filepath.Join(os.TempDir(), "parking_watch_test_data")
	tmpBlob := filepath.Join(os.TempDir(), "parking_watch_test_blobs")
	tmpHLS := filepath.Join(os.TempDir(), "parking_watch_test_hls")
	os.Setenv("PARKING_DATA_ROOT", tmpRoot)
	os.Setenv("BLOB_ROOT", tmpBlob)
	os.Setenv("HLS_ROOT", tmpHLS)
	defer os.RemoveAll(tmpRoot)
	defer os.RemoveAll(tmpBlob)
	defer os.RemoveAll(tmpHLS)
	defer os.Unsetenv("PARKING_DATA_ROOT")
	defer os.Unsetenv("BLOB_ROOT")
	defer os.Unsetenv("HLS_ROOT")

	err := EnsureDirs()
	assert.NoError(t, err)

	_, err = os.Stat(filepath.Join(tmpRoot, "config"))
	assert.NoError(t, err)
	_, err = os.Stat(tmpBlob)
	assert.NoError(t, err)
	_, err = os.Stat(tmpHLS)
	assert.NoError(t, err)
}
