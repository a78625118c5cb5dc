// Package main runs the StudyDeck offline layer: the durable store, the
// pending-operations queue, the caching gateway, and the supervisor that
// keeps the gateway alive.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kychiang/studydeck/internal/config"
	"github.com/kychiang/studydeck/internal/gateway"
	"github.com/kychiang/studydeck/internal/lifecycle"
	"github.com/kychiang/studydeck/internal/logging"
	"github.com/kychiang/studydeck/internal/memcache"
	"github.com/kychiang/studydeck/internal/opqueue"
	"github.com/kychiang/studydeck/internal/reader"
	"github.com/kychiang/studydeck/internal/remote"
	"github.com/kychiang/studydeck/internal/store"
)

func main() {
	logging.Init(os.Stdout, logging.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration load failed", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		logging.Error("durable store open failed", err)
		os.Exit(1)
	}
	defer st.Close()

	cache := memcache.New()
	loader := reader.NewLoader(cache)
	client := remote.NewClient(cfg.RemoteBaseURL)
	queue := opqueue.New(st, client)

	registry := prometheus.NewRegistry()
	metrics := gateway.NewMetrics(registry)

	installer := func(ctx context.Context) (lifecycle.Worker, error) {
		gw, err := gateway.New(gateway.Config{
			OriginURL: cfg.RemoteBaseURL,
			Version:   cfg.CacheVersion,
		}, metrics)
		if err != nil {
			return nil, err
		}
		if err := gw.Start(ctx); err != nil {
			return nil, err
		}
		return gw, nil
	}

	supervisor := lifecycle.NewSupervisor(lifecycle.Config{
		KeepAliveInterval:   cfg.KeepAliveInterval,
		PingTimeout:         cfg.PingTimeout,
		RegisterTimeout:     cfg.RegisterTimeout,
		SandboxHostPatterns: cfg.SandboxHostPatterns,
	}, installer)

	if _, err := supervisor.Register(ctx); err != nil {
		// Offline capability is best-effort; the app still runs without it.
		logging.Error("gateway registration failed, continuing without cache layer", err)
	}
	supervisor.Run(ctx)
	defer supervisor.Stop()

	// Realtime changes force a cache refresh for the changed table.
	subscription := remote.NewSubscription(cfg.RealtimeURL, func(table string) {
		envs := st.GetAll(ctx, table)
		loader.Push(table, envs)
		logging.Debug("realtime refresh", map[string]interface{}{"table": table})
	})
	// The feed doubles as the connectivity signal: reconnecting after an
	// extended offline stretch makes the supervisor rebuild the caches.
	subscription.OnState(func(connected bool) {
		supervisor.SetOnline(ctx, connected)
	})
	subscription.Start(ctx)
	defer subscription.Close()

	// Opportunistic eviction: piggyback on the keep-alive cadence rather
	// than running its own schedule.
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st.EvictStale(ctx, cfg.StaleMaxAge)
				if err := queue.Execute(ctx); err != nil {
					logging.Warn("deferred queue execution incomplete",
						map[string]interface{}{"error": err.Error()})
				}
			}
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"studydeck-offline"}`))
	})
	// Route through the supervisor so a reinstalled gateway picks up
	// traffic without restarting the server.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if gw, ok := supervisor.Worker().(*gateway.Gateway); ok && gw != nil {
			gw.ServeHTTP(w, r)
			return
		}
		http.Error(w, "cache layer unavailable", http.StatusServiceUnavailable)
	})

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	logging.Info("studydeck offline layer listening", map[string]interface{}{
		"addr": cfg.ListenAddr,
	})
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Error("server stopped", err)
		os.Exit(1)
	}
}
