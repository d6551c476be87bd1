package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"loreweave.ai/internal/content"
	plog "loreweave.ai/internal/persistence/log"
	"loreweave.ai/internal/sim/registry"
	"loreweave.ai/internal/sim/session"
	"loreweave.ai/internal/sim/tuning"
	"loreweave.ai/internal/transport/ws"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "http listen address")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		packagesDir = flag.String("packages", "./packages", "content package directory")
		configDir   = flag.String("configs", "./configs", "config directory")
		tuningPath  = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB   = flag.Bool("disable_db", false, "disable the read-model index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	senv, err := loadServerEnv(logger)
	if err != nil {
		logger.Fatalf("%v", err)
	}

	tpath := *tuningPath
	if tpath == "" {
		tpath = filepath.Join(*configDir, "tuning.yaml")
		if _, err := os.Stat(tpath); err != nil {
			tpath = ""
		}
	}
	tune, err := tuning.Load(tpath)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	reg := registry.New(registry.Config{
		Limits: tune.ContentLimits(),
		Logger: log.New(os.Stdout, "[registry] ", log.LstdFlags|log.Lmicroseconds),
	})
	registryFile := filepath.Join(*dataDir, "registry.json")
	if fromBackup, err := session.LoadRegistryState(reg, registryFile); err != nil {
		logger.Fatalf("load registry state: %v", err)
	} else if fromBackup {
		logger.Printf("registry state restored from backup")
	}

	idx, err := openRuntimeIndex(ctx, *dataDir, senv, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index: %v", err)
	}
	defer idx.Close()

	audit := plog.NewAuditLogger(*dataDir)
	defer audit.Close()

	gen, mode, err := openGenerator(ctx, senv, tune, logger)
	if err != nil {
		logger.Fatalf("narrator: %v", err)
	}
	logger.Printf("narrator=%s", mode)

	savesDir := filepath.Join(*dataDir, "saves")
	mgr, err := session.NewManager(session.ManagerConfig{
		SavesDir:         savesDir,
		RegistryFile:     registryFile,
		RegistryDebounce: time.Duration(tune.Persist.RegistryDebounceMs) * time.Millisecond,
		Registry:         reg,
		Narrator:         gen,
		Summarizer:       gen,
		Chronicle:        tune.ChronicleConfig(),
		NarrationTimeout: tune.NarrationTimeout(),
		Journal:          tune.Persist.JournalEnabled,
		Index:            idx,
		Audit:            audit,
		Logger:           logger,
	})
	if err != nil {
		logger.Fatalf("session manager: %v", err)
	}
	defer mgr.Close()

	store := content.NewDirStore(*packagesDir)
	store.MaxFileBytes = tune.Content.MaxFileBytes
	rep, err := mgr.Rescan(ctx, store)
	if err != nil {
		logger.Fatalf("load packages: %v", err)
	}
	logger.Printf("packages integrated=%d rejected=%d locations=%d", len(rep.Integrated), len(rep.Rejected), reg.World().Len())
	if len(rep.Integrated) == 0 {
		logger.Printf("no packages available under %s; new playthroughs will be refused", *packagesDir)
	}

	adm := &admin{
		mgr:      mgr,
		reg:      reg,
		store:    store,
		index:    idx,
		audit:    audit,
		savesDir: savesDir,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", adm.handleMetrics)

	if senv.adminEnabled() {
		adm.register(mux)
	} else {
		logger.Printf("admin endpoints disabled (LW_ENABLE_ADMIN_HTTP=false)")
	}
	if senv.EnablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(mgr, reg, logger).Handler())

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
		if err := mgr.FlushRegistry(ctx2); err != nil {
			logger.Printf("flush registry: %v", err)
		}
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
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
