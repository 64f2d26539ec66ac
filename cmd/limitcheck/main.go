package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/starius/msglimit/cmd/limitcheck/limitcheckapp"
)

func main() {
	cfg, err := limitcheckapp.Parse(limitcheckapp.WithOSArgs())
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	if cfg == nil { // help printed
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := limitcheckapp.Run(ctx, *cfg); err != nil {
		log.Fatalf("limitcheck: %v", err)
	}
}
