package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/chenqi146/parking-watch/internal/blob"
	"github.com/chenqi146/parking-watch/internal/change"
	"github.com/chenqi146/parking-watch/internal/clock"
	"github.com/chenqi146/parking-watch/internal/config"
	"github.com/chenqi146/parking-watch/internal/detector"
	"github.com/chenqi146/parking-watch/internal/engine"
	"github.com/chenqi146/parking-watch/internal/hlsgw"
	"github.com/chenqi146/parking-watch/internal/planner"
	"github.com/chenqi146/parking-watch/internal/platform/paths"
	"github.com/chenqi146/parking-watch/internal/query"
	"github.com/chenqi146/parking-watch/internal/ratelimit"
	"github.com/chenqi146/parking-watch/internal/rtsp"
	"github.com/chenqi146/parking-watch/internal/scheduler"
	"github.com/chenqi146/parking-watch/internal/store"
)

const serviceName = "parking-watch"

func main() {
	if err := paths.EnsureDirs(); err != nil {
		log.Fatalf("platform init error: %v", err)
	}

	cfgPath := paths.ResolveConfigPath(os.Getenv("CONFIG_PATH"))
	cfg := config.Load(cfgPath)

	stopWatch := make(chan struct{})
	go cfg.Watch(stopWatch)

	db, err := store.Open(cfg.StoreDSN)
	if err != nil {
		log.Fatalf("store open error: %v", err)
	}
	defer db.DB.Close()

	blobs := blob.New(cfg.BlobRoot)

	tunables := cfg.Current()
	clk, err := clock.New(tunables.WallTimezone)
	if err != nil {
		log.Fatalf("clock init error: %v", err)
	}

	var det detector.Detector
	if cfg.DetectorGRPCAddr != "" {
		grpcDet, err := detector.DialGRPC(cfg.DetectorGRPCAddr)
		if err != nil {
			log.Printf("[server] detector gRPC dial failed, falling back to heuristic: %v", err)
			det = detector.NewHeuristicDetector()
		} else {
			det = grpcDet
			defer grpcDet.Close()
		}
	} else {
		det = detector.NewHeuristicDetector()
	}

	decoder := rtsp.NewFFmpegDecoder(time.Duration(tunables.RTSPConnectTimeoutSec) * time.Second)

	// NATS is a best-effort side channel (spec.md §4.4): a committed
	// ChangeRecord's row is the record of truth regardless of whether this
	// connection succeeds, mirroring internal/nvr/nats_publisher.go's role.
	var nc *nats.Conn
	var changePublisher change.Publisher
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name(serviceName))
		if err != nil {
			log.Printf("[server] NATS connect failed, change feed push disabled: %v", err)
		} else {
			changePublisher = change.NewNATSPublisher(nc)
			defer nc.Close()
		}
	}

	changeEngine := change.New(db, changePublisher)

	execEngine := engine.New(db, blobs, decoder, det, changeEngine, cfg)
	stopReaper := make(chan struct{})
	execEngine.StartReaper(stopReaper)

	pl := planner.New(db, clk)
	sched := scheduler.New(db, pl, clk, execEngine)
	stopSchedule := make(chan struct{})
	sched.Start(stopSchedule)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	limiter := ratelimit.NewLimiter(rdb, "hlsgw-spawn-salt")
	hlsMgr := hlsgw.New(cfg.HLSRoot, time.Duration(tunables.HLSIdleTimeoutSec)*time.Second, limiter)
	defer hlsMgr.Stop()
	hlsHandler := hlsgw.NewHandler(hlsMgr)

	queryFacade := query.New(db, blobs)
	hub, err := query.NewHub(nc, change.ChangeSubject)
	if err != nil {
		log.Fatalf("query hub init error: %v", err)
	}
	defer hub.Close()
	queryHandler := query.NewHandler(queryFacade, hub)

	schedHandler := scheduler.NewHandler(sched)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	queryHandler.Register(r)
	schedHandler.Register(r)
	hlsHandler.Register(r)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		log.Printf("[server] parking-watch listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[server] http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Printf("[server] shutdown signal received")

	close(stopSchedule)
	close(stopReaper)
	close(stopWatch)
	execEngine.Drain()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[server] graceful shutdown error: %v", err)
	}
	log.Printf("[server] stopped gracefully")
}
