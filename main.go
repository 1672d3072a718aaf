package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"iptv-gateway/work/accounts"
	"iptv-gateway/work/buffer"
	"iptv-gateway/work/client"
	"iptv-gateway/work/config"
	"iptv-gateway/work/database"
	"iptv-gateway/work/handlers"
	"iptv-gateway/work/logger"
	"iptv-gateway/work/mirror"
	"iptv-gateway/work/probe"
	"iptv-gateway/work/relay"
	"iptv-gateway/work/resolver"
	"iptv-gateway/work/segments"
	"iptv-gateway/work/utils"
	"iptv-gateway/work/xtream"
)

var (
	Version = "v0.1.0" // default version
)

func main() {
	cfg := config.LoadConfig()
	logger.SetLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := accounts.NewRegistry(cfg)
	if registry.Len() == 0 {
		logger.Warn("{main - main} No usable playlists configured, stream resolution will fail")
	}

	// upstream clients
	httpClient := client.NewHeaderSettingClient(cfg)
	prober := probe.New(cfg)
	catalog := xtream.NewClient(cfg, httpClient)

	// shared probe pool for segment discovery
	probePool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		logger.Error("{main - main} Failed to create probe pool: %v", err)
		os.Exit(1)
	}
	defer probePool.Release()

	policy := resolver.New(cfg, prober)
	discoverer := segments.NewDiscoverer(cfg, prober, probePool)
	segmentRelay := relay.New(cfg, registry, discoverer, httpClient, buffer.NewBufferPool(buffer.DefaultCopySize))

	gw := &handlers.Gateway{
		Config:   cfg,
		Accounts: registry,
		Catalog:  catalog,
		Policy:   policy,
		Prober:   prober,
	}

	// optional catalog mirror
	if cfg.DatabasePath != "" {
		db, err := database.Open(cfg.DatabasePath)
		if err != nil {
			logger.Error("{main - main} Failed to open catalog mirror at %s: %v", cfg.DatabasePath, err)
			os.Exit(1)
		}
		defer db.Close()

		syncPool, err := ants.NewPool(3, ants.WithPreAlloc(true))
		if err != nil {
			logger.Error("{main - main} Failed to create sync pool: %v", err)
			os.Exit(1)
		}
		defer syncPool.Release()

		gw.DB = db
		gw.Syncer = mirror.NewSyncer(cfg, db, catalog, registry, syncPool)
		go gw.Syncer.Run(ctx, cfg.SyncInterval)
	}

	router := mux.NewRouter()
	handlers.Register(router, gw)
	segmentRelay.Register(router)
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("{main - main} Starting IPTV Gateway %s", Version)
	logger.Info("{main - main} Server configuration:")
	logger.Info("{main - main}   - Listen Address: %s", cfg.ListenAddr)
	logger.Info("{main - main}   - Public Base URL: %s", cfg.PublicBaseURL)
	logger.Info("{main - main}   - Playlists: %d", registry.Len())
	for _, p := range registry.List() {
		logger.Info("{main - main}     [%d] %s (%s)", p.ID, p.Name, utils.LogURL(cfg, p.Credentials.BaseURL))
	}
	logger.Info("{main - main}   - Probe Timeout: %s", cfg.ProbeTimeout)
	logger.Info("{main - main}   - Discovery Window: %d", cfg.DiscoveryWindow)
	logger.Info("{main - main}   - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("{main - main}   - Max Segments: %d", cfg.MaxSegments)
	logger.Info("{main - main}   - Catalog Mirror: %v", cfg.DatabasePath != "")
	logger.Info("{main - main}   - URL Obfuscation: %v", cfg.ObfuscateUrls)

	idle := make(chan struct{})
	go func() {
		defer close(idle)
		<-ctx.Done()
		logger.Info("{main - main} Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("{main - main} Graceful shutdown failed: %v", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("{main - main} Server failed: %v", err)
		os.Exit(1)
	}
	<-idle
}
