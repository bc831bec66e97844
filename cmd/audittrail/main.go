package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	audittrailcmd "github.com/louisbranch/audittrail/internal/cmd/audittrail"
)

func main() {
	cfg, err := audittrailcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[AUDITTRAIL] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := audittrailcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
