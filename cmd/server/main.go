package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	persistlog "windrift.gg/internal/persistence/log"
	"windrift.gg/internal/persistence/store"
	"windrift.gg/internal/protocol"
	"windrift.gg/internal/sim/tuning"
	"windrift.gg/internal/sim/world"
	"windrift.gg/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		shardID    = flag.String("shard", "shard_1", "shard id (metrics label, data subdirectory)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite entity store")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", *tuningPath)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}
	if tune.ProtocolVersion != protocol.Version {
		logger.Printf("tuning protocol_version %q differs from server %q", tune.ProtocolVersion, protocol.Version)
	}

	shardDir := filepath.Join(*dataDir, "shards", *shardID)
	_ = os.MkdirAll(shardDir, 0o755)

	var db *store.SQLiteStore
	var upserter world.Upserter
	if !*disableDB {
		db, err = store.Open(filepath.Join(shardDir, "entities.db"))
		if err != nil {
			logger.Fatalf("open entity store: %v", err)
		}
		defer db.Close()
		upserter = db
	} else {
		logger.Printf("entity store disabled (-disable_db)")
	}

	mgr := world.New(world.Config{
		TickRateHz:        tune.TickRateHz,
		DBPersistEvery:    time.Duration(tune.DBPersistEveryMs) * time.Millisecond,
		MaxBatchSize:      tune.MaxBatchSize,
		PositionThreshold: tune.PositionThreshold,
		RotationThreshold: tune.RotationThreshold,
		MaxSyncDistance:   tune.MaxSyncDistance,
		CellSize:          tune.CellSize,
		PriorityTiers: world.PriorityTiers{
			High:    tune.PriorityTiers.High,
			Medium:  tune.PriorityTiers.Medium,
			Low:     tune.PriorityTiers.Low,
			Minimal: tune.PriorityTiers.Minimal,
		},
	}, upserter, logger)

	tickLog := persistlog.NewTickLogger(shardDir)
	defer tickLog.Close()
	mgr.SetTickLogger(tickLog)

	sessionLog := persistlog.NewSessionLogger(shardDir)
	defer sessionLog.Close()

	ctx, cancel := signalContext()
	defer cancel()

	// The signal context shuts down the HTTP server only. The engine loop
	// must stay alive until mgr.Shutdown below so the final flush runs
	// and in-flight ReleaseSession calls are serviced.
	go func() {
		if err := mgr.Run(context.Background()); err != nil {
			logger.Printf("engine stopped: %v", err)
		}
	}()

	wsSrv := ws.NewServer(mgr, protocol.WorldParams{
		TickRateHz:      tune.TickRateHz,
		CellSize:        tune.CellSize,
		MaxSyncDistance: tune.MaxSyncDistance,
	}, logger)
	wsSrv.SetSessionRecorder(sessionLog)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, *shardID, mgr)
	})

	enableAdminHTTP := envBool("WD_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("WD_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				ShardID string      `json:"shard_id"`
				Tick    uint64      `json:"tick"`
				Stats   world.Stats `json:"stats"`
			}{
				ShardID: *shardID,
				Tick:    mgr.CurrentTick(),
				Stats:   mgr.Stats(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/region", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			label := r.URL.Query().Get("label")
			if label == "" {
				http.Error(rw, "missing label", http.StatusBadRequest)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				Label    string               `json:"label"`
				Entities []protocol.FullState `json:"entities"`
			}{
				Label:    label,
				Entities: mgr.EntitiesInRegion(label),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
	} else {
		logger.Printf("admin endpoints disabled (WD_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	// Connections are gone; drain the engine's persistence before exit.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	if err := mgr.Shutdown(ctx2); err != nil {
		logger.Printf("engine shutdown: %v", err)
	}
	logger.Printf("shutdown complete at tick %d", mgr.CurrentTick())
}

func writeMetrics(rw http.ResponseWriter, shardID string, mgr *world.Manager) {
	st := mgr.Stats()
	qd := mgr.Metrics().QueueDepths

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP windrift_world_tick Current world tick.\n")
	fmt.Fprintf(rw, "# TYPE windrift_world_tick gauge\n")
	fmt.Fprintf(rw, "windrift_world_tick{shard=%q} %d\n", shardID, st.CurrentTick)

	fmt.Fprintf(rw, "# HELP windrift_world_entities Current number of tracked entities.\n")
	fmt.Fprintf(rw, "# TYPE windrift_world_entities gauge\n")
	fmt.Fprintf(rw, "windrift_world_entities{shard=%q} %d\n", shardID, st.EntityCount)

	fmt.Fprintf(rw, "# HELP windrift_world_cells Occupied spatial grid cells.\n")
	fmt.Fprintf(rw, "# TYPE windrift_world_cells gauge\n")
	fmt.Fprintf(rw, "windrift_world_cells{shard=%q} %d\n", shardID, st.CellCount)

	fmt.Fprintf(rw, "# HELP windrift_ticks_total Ticks executed.\n")
	fmt.Fprintf(rw, "# TYPE windrift_ticks_total counter\n")
	fmt.Fprintf(rw, "windrift_ticks_total{shard=%q} %d\n", shardID, st.TicksProcessed)

	fmt.Fprintf(rw, "# HELP windrift_tick_overruns_total Ticks shed because the previous one was still running.\n")
	fmt.Fprintf(rw, "# TYPE windrift_tick_overruns_total counter\n")
	fmt.Fprintf(rw, "windrift_tick_overruns_total{shard=%q} %d\n", shardID, st.TickOverruns)

	fmt.Fprintf(rw, "# HELP windrift_updates_sent_total Delta states fanned out to clients.\n")
	fmt.Fprintf(rw, "# TYPE windrift_updates_sent_total counter\n")
	fmt.Fprintf(rw, "windrift_updates_sent_total{shard=%q} %d\n", shardID, st.UpdatesSent)

	fmt.Fprintf(rw, "# HELP windrift_db_persists_total Successful batched flushes.\n")
	fmt.Fprintf(rw, "# TYPE windrift_db_persists_total counter\n")
	fmt.Fprintf(rw, "windrift_db_persists_total{shard=%q} %d\n", shardID, st.DBPersists)

	fmt.Fprintf(rw, "# HELP windrift_max_tick_ms Longest tick duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE windrift_max_tick_ms gauge\n")
	fmt.Fprintf(rw, "windrift_max_tick_ms{shard=%q} %.3f\n", shardID, st.MaxTickMS)

	fmt.Fprintf(rw, "# HELP windrift_queue_depth Request channel backlog depth.\n")
	fmt.Fprintf(rw, "# TYPE windrift_queue_depth gauge\n")
	fmt.Fprintf(rw, "windrift_queue_depth{shard=%q,queue=%q} %d\n", shardID, "update", qd.Update)
	fmt.Fprintf(rw, "windrift_queue_depth{shard=%q,queue=%q} %d\n", shardID, "add", qd.Add)
	fmt.Fprintf(rw, "windrift_queue_depth{shard=%q,queue=%q} %d\n", shardID, "remove", qd.Remove)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
