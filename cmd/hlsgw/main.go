package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/chenqi146/parking-watch/internal/hlsgw"
	"github.com/chenqi146/parking-watch/internal/platform/paths"
	"github.com/chenqi146/parking-watch/internal/ratelimit"
)

const serviceName = "parking-watch-hlsgw"

// cmd/hlsgw is a standalone process for the HLS transcoder manager (C10),
// split out from cmd/server so the ffmpeg child fleet can be scaled and
// restarted independently of the capture pipeline, grounded on the
// teacher's own cmd/hlsd split from cmd/server.
func main() {
	hlsRoot := os.Getenv("HLS_ROOT")
	if hlsRoot == "" {
		hlsRoot = paths.ResolveHLSRoot()
	}
	if err := os.MkdirAll(hlsRoot, 0o750); err != nil {
		log.Fatalf("hls root init error: %v", err)
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	idleTimeoutSec := envInt("HLS_IDLE_TIMEOUT_SEC", 60)

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()
	limiter := ratelimit.NewLimiter(rdb, "hlsgw-spawn-salt")

	mgr := hlsgw.New(hlsRoot, time.Duration(idleTimeoutSec)*time.Second, limiter)
	defer mgr.Stop()
	handler := hlsgw.NewHandler(mgr)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Range")
			w.Header().Set("Access-Control-Expose-Headers", "Content-Range, Accept-Ranges, Content-Length")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())
	handler.Register(r)

	port := os.Getenv("HLSGW_PORT")
	if port == "" {
		port = "8081"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		log.Printf("[%s] listening on :%s", serviceName, port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[%s] http server error: %v", serviceName, err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Printf("[%s] shutdown signal received", serviceName)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[%s] graceful shutdown error: %v", serviceName, err)
	}
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
