package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tobert/jpm-dash/internal/cli"
	cliframework "github.com/urfave/cli/v3"
)

const version = "0.1.0-dev"

func main() {
	app := &cliframework.Command{
		Name:    "jpm-dash",
		Usage:   "YARN job dashboard fed by OTLP cluster metrics, served over MCP and a web UI",
		Version: version,
		Commands: []*cliframework.Command{
			cli.ServeCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "❌ error: %v\n", err)
		os.Exit(1)
	}
}
