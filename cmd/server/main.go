package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/photobooth/backend/internal/album"
	"github.com/photobooth/backend/internal/api"
	"github.com/photobooth/backend/internal/config"
	"github.com/photobooth/backend/internal/demo"
	"github.com/photobooth/backend/internal/health"
	"github.com/photobooth/backend/internal/picture"
	"github.com/photobooth/backend/internal/session"
	"github.com/photobooth/backend/internal/ws"
)

func main() {
	demoMode := flag.Bool("demo", false, "Run scripted guests instead of waiting for a camera client")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}

	if err := os.MkdirAll(cfg.Booth.UploadDir, 0o755); err != nil {
		log.Fatalf("Failed to create upload dir %s: %v", cfg.Booth.UploadDir, err)
	}

	broadcaster := ws.NewBroadcaster()
	registry := session.NewRegistry()
	// Logo downloads must not hang forever on a dead CDN.
	logoClient := &http.Client{Timeout: 15 * time.Second}
	pipeline := picture.NewPipeline(cfg.Booth.UploadDir, cfg.Booth.PublicHost, logoClient)
	albums := album.NewRegistry(cfg.Booth.UploadDir, cfg.Booth.PublicHost)
	audit := session.NewAuditLog(cfg.Booth.AuditLog)
	collector := health.NewCollector(cfg.Booth.UploadDir)

	server := api.NewServer(cfg, registry, pipeline, albums, broadcaster, collector, audit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go registry.Run(ctx, time.Minute)

	if *demoMode {
		log.Println("Starting in demo mode")
		runner := demo.NewRunner(cfg, registry, broadcaster, pipeline, audit, albums)
		if err := runner.Start(ctx); err != nil {
			log.Fatalf("Failed to start demo runner: %v", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		registry.KillAll()
		os.Exit(0)
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Booth backend listening on %s (uploads in %s)", addr, cfg.Booth.UploadDir)
	if err := http.ListenAndServe(addr, server.Routes()); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
