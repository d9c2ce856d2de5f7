package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/histoboard/backend/internal/config"
	"github.com/histoboard/backend/internal/frontend"
	"github.com/histoboard/backend/internal/session"
	"github.com/histoboard/backend/internal/ws"
)

func main() {
	devMode := flag.Bool("dev", false, "Development mode (serve frontend from filesystem)")
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

	var frontendHandler http.Handler
	if *devMode {
		dir := "internal/frontend/static"
		log.Printf("Serving frontend from filesystem: %s", dir)
		frontendHandler = http.FileServer(http.Dir(dir))
	} else {
		frontendHandler = frontend.Handler()
	}

	uploadDir, err := os.MkdirTemp("", "histoboard-uploads-")
	if err != nil {
		log.Fatalf("Failed to create upload dir: %v", err)
	}
	defer os.RemoveAll(uploadDir)

	store := session.NewStore()
	hub := ws.NewHub()
	server := ws.NewServer(cfg, store, hub, frontendHandler, uploadDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Sampling and histogram settings apply live on config edits.
	if _, err := os.Stat(*configPath); err == nil {
		go func() {
			if err := config.Watch(ctx, *configPath, server.ApplyConfig); err != nil {
				log.Printf("config watch disabled: %v", err)
			}
		}()
	}

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		os.RemoveAll(uploadDir)
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
