package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/headerprop/internal/logger"
	"github.com/marmos91/headerprop/pkg/config"
	"github.com/spf13/pflag"
)

const usage = `headerprop - propagate folder headers across an object store

Usage:
  headerprop [flags]            run the trigger server
  headerprop init [--force]     write a default config file

Flags:
`

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		os.Exit(runInit(os.Args[2:]))
	}

	flags := pflag.NewFlagSet("headerprop", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "", "Path to config file (default: $XDG_CONFIG_HOME/headerprop/config.yaml)")
	flags.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	flags.String("listen", ":7071", "Address of the trigger endpoint")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.LoadWithFlags(*configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		if *configPath == "" && !config.ConfigExists() {
			fmt.Fprintln(os.Stderr, "Run 'headerprop init' to create a default config file.")
		}
		os.Exit(1)
	}

	// Configure logger
	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log output: %v\n", err)
		os.Exit(1)
	}

	// Cancelled on SIGINT/SIGTERM to initiate graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("headerprop starting")
	logger.Info("Log level set to: %s", cfg.Logging.Level)

	srv, err := buildServer(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize: %v", err)
		os.Exit(1)
	}

	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server error: %v", err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func runInit(args []string) int {
	flags := pflag.NewFlagSet("init", pflag.ExitOnError)
	force := flags.BoolP("force", "f", false, "Overwrite an existing config file")
	path := flags.StringP("config", "c", "", "Where to write the config file")
	_ = flags.Parse(args)

	if *path != "" {
		if err := config.InitConfigToPath(*path, *force); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("Configuration written to %s\n", *path)
		return 0
	}

	written, err := config.InitConfig(*force)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Configuration written to %s\n", written)
	return 0
}
