// Package main generates invocation signing keys and mints bearer
// credentials for the audit trail service.
package main

import (
	"flag"
	"os"

	"github.com/louisbranch/audittrail/internal/platform/config"
	"github.com/louisbranch/audittrail/internal/tools/invokekey"
)

func main() {
	cfg, err := invokekey.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := invokekey.Run(cfg, os.Stdout, nil, nil); err != nil {
		config.Exitf("invoke token: %v", err)
	}
}
