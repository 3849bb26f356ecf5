package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"marai-studio/internal/app"
	"marai-studio/internal/config"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting Marai Studio API...")

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Serve(ctx, cfg); err != nil {
		log.Fatalf("❌ Server failed: %v", err)
	}
}
