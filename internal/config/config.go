// Package config loads process-wide tunables from environment variables and
// an optional YAML file, and hot-reloads the file on change.
//
// Secrets and connection strings (store DSN, NATS URL, Redis address) come
// from the environment, following cmd/server's convention in the teacher
// repo. The numeric knobs in spec.md's configuration table live in the YAML
// file. A reload is seen by values read per task (deadline factor, retry
// count, connect timeout, reference frame size); the engine's global
// concurrency cap and the wall timezone are fixed at startup, and a
// per-combo cap takes the value current when that combo is first seen.
package config

import (
	"log"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Tunables holds the values that may be hot-reloaded from the YAML file.
type Tunables struct {
	MaxComboConcurrency    int    `yaml:"max_combo_concurrency"`
	MaxWorkersPerCombo     int    `yaml:"max_workers_per_combo"`
	HLSIdleTimeoutSec      int    `yaml:"hls_idle_timeout_sec"`
	RTSPConnectTimeoutSec  int    `yaml:"task_rtsp_connect_timeout_sec"`
	TaskRetryCount         int    `yaml:"task_retry_count"`
	TaskDeadlineFactor     int    `yaml:"task_deadline_factor"`
	WallTimezone           string `yaml:"wall_timezone"`
	ReferenceWidth         int    `yaml:"reference_width"`
	ReferenceHeight        int    `yaml:"reference_height"`
}

func defaults() Tunables {
	return Tunables{
		MaxComboConcurrency:   4,
		MaxWorkersPerCombo:    2,
		HLSIdleTimeoutSec:     60,
		RTSPConnectTimeoutSec: 10,
		TaskRetryCount:        2,
		TaskDeadlineFactor:    2,
		WallTimezone:          "Asia/Shanghai",
		ReferenceWidth:        1920,
		ReferenceHeight:       1080,
	}
}

// Config is the live, hot-reloadable configuration handle. Readers call the
// accessor methods, which atomically load the current Tunables snapshot;
// the watcher goroutine installs a new snapshot on file change.
type Config struct {
	path    string
	current atomic.Pointer[Tunables]

	// Static, env-sourced settings (not hot-reloaded).
	StoreDSN         string
	BlobRoot         string
	HLSRoot          string
	NATSURL          string
	DetectorGRPCAddr string
	RedisAddr        string
}

// Load reads environment variables for the static settings and, if a YAML
// file exists at path, parses it for the hot-reloadable Tunables; missing
// file or parse error falls back to defaults (grounded on
// internal/license/manager.go's tolerant config load).
func Load(path string) *Config {
	c := &Config{
		path:             path,
		StoreDSN:         envOr("STORE_DSN", "postgres://localhost:5432/parking_watch?sslmode=disable"),
		BlobRoot:         envOr("BLOB_ROOT", "/var/lib/parking-watch/blobs"),
		HLSRoot:          envOr("HLS_ROOT", "/var/lib/parking-watch/hls"),
		NATSURL:          os.Getenv("NATS_URL"),
		DetectorGRPCAddr: os.Getenv("DETECTOR_GRPC_ADDR"),
		RedisAddr:        envOr("REDIS_ADDR", "localhost:6379"),
	}
	t := defaults()
	if path != "" {
		if loaded, err := readFile(path); err != nil {
			log.Printf("[config] could not load %s, using defaults: %v", path, err)
		} else {
			t = loaded
		}
	}
	applyEnvOverrides(&t)
	c.current.Store(&t)
	return c
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, into *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*into = n
		}
	}
}

func applyEnvOverrides(t *Tunables) {
	envInt("MAX_COMBO_CONCURRENCY", &t.MaxComboConcurrency)
	envInt("MAX_WORKERS_PER_COMBO", &t.MaxWorkersPerCombo)
	envInt("HLS_IDLE_TIMEOUT_SEC", &t.HLSIdleTimeoutSec)
	envInt("TASK_RTSP_CONNECT_TIMEOUT_SEC", &t.RTSPConnectTimeoutSec)
	envInt("TASK_RETRY_COUNT", &t.TaskRetryCount)
	envInt("TASK_DEADLINE_FACTOR", &t.TaskDeadlineFactor)
	if v := os.Getenv("WALL_TIMEZONE"); v != "" {
		t.WallTimezone = v
	}
	envInt("REFERENCE_WIDTH", &t.ReferenceWidth)
	envInt("REFERENCE_HEIGHT", &t.ReferenceHeight)
}

func readFile(path string) (Tunables, error) {
	t := defaults()
	b, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(b, &t); err != nil {
		return t, err
	}
	return t, nil
}

// Current returns the current Tunables snapshot.
func (c *Config) Current() Tunables {
	return *c.current.Load()
}

// Watch starts an fsnotify watcher on the config file plus a 60s poll that
// runs alongside it, mirroring internal/license/watcher.go's dual-strategy
// reload.
func (c *Config) Watch(stop <-chan struct{}) {
	if c.path == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	usePolling := false
	if err != nil {
		log.Printf("[config] fsnotify unavailable (%v), falling back to polling", err)
		usePolling = true
	} else if err := watcher.Add(c.path); err != nil {
		log.Printf("[config] failed to watch %s (%v), falling back to polling", c.path, err)
		usePolling = true
		watcher.Close()
	}

	if !usePolling {
		go func() {
			defer watcher.Close()
			for {
				select {
				case <-stop:
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
						time.Sleep(100 * time.Millisecond)
						c.reload()
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Printf("[config] watcher error: %v", err)
				}
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.reload()
			}
		}
	}()
}

func (c *Config) reload() {
	t, err := readFile(c.path)
	if err != nil {
		log.Printf("[config] reload of %s failed, keeping previous tunables: %v", c.path, err)
		return
	}
	applyEnvOverrides(&t)
	c.current.Store(&t)
	log.Printf("[config] reloaded tunables from %s", c.path)
}
