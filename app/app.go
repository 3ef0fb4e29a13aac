package app

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/searchktools/ampd/config"
	"github.com/searchktools/ampd/internal/rtune"
	"github.com/searchktools/ampd/rpc/registry"
	"github.com/searchktools/ampd/rpc/server"
)

// App is the agentd daemon process: one Registry of allow-listed
// handlers served over one Unix-domain socket.
type App struct {
	cfg      *config.Config
	registry *registry.Registry
	server   *server.Server
}

// New creates an application instance bound to reg. Handlers must
// already be registered on reg before Run is called.
func New(cfg *config.Config, reg *registry.Registry) *App {
	return &App{
		cfg:      cfg,
		registry: reg,
		server:   server.NewServer(reg),
	}
}

// Registry returns the underlying method registry for handler
// registration before Run.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Run applies runtime tuning and serves until a termination signal is
// received, then drains connections and returns.
func (a *App) Run() {
	rtune.Apply(rtune.GCConfig{GOGC: a.cfg.GOGC})

	go a.awaitSignal()

	log.Printf("agentd: listening on %s", a.cfg.SocketPath)
	if err := a.server.ListenAndServe(a.cfg.SocketPath); err != nil {
		log.Fatalf("agentd: listen failed: %v", err)
	}
}

func (a *App) awaitSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	diag := make(chan os.Signal, 1)
	signal.Notify(diag, syscall.SIGUSR1)

	for {
		select {
		case sig := <-diag:
			a.logStats(sig)
		case sig := <-quit:
			log.Printf("agentd: signal received: %v, shutting down", sig)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.server.Shutdown(ctx); err != nil {
				log.Printf("agentd: shutdown: %v", err)
			}
			os.Remove(a.cfg.SocketPath)
			os.Exit(0)
		}
	}
}

func (a *App) logStats(sig os.Signal) {
	stats := rtune.ReadStats()
	log.Printf("agentd: %v diagnostics: numGC=%d lastPause=%s alloc=%dB sys=%dB goroutines=%d",
		sig, stats.NumGC, stats.LastPause, stats.AllocBytes, stats.Sys, stats.NumGoroutine)
}
