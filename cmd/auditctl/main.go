// Package main provides the audit trail operator CLI.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/louisbranch/audittrail/internal/platform/config"
	"github.com/louisbranch/audittrail/internal/tools/auditctl"
)

func main() {
	cfg, err := auditctl.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("Error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := auditctl.Run(ctx, cfg, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, auditctl.ErrBroken) {
			config.ExitCodef(config.ExitCodeBroken, "Error: %v", err)
		}
		config.Exitf("Error: %v", err)
	}
}
