// ABOUTME: Entry point for the waitron print agent
// ABOUTME: Loads TOML config, builds the agent, runs until SIGINT/SIGTERM

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
)

var version = "dev"

func printBanner() {
	fmt.Println()
	fmt.Println("  ╔═════════════════════════════╗")
	fmt.Println("  ║     waitron print agent     ║")
	fmt.Println("  ╚═════════════════════════════╝")
	fmt.Println()
}

// getConfigPath returns the agent config path following XDG conventions.
// PRINT_AGENT_CONFIG overrides everything.
func getConfigPath() string {
	if path := os.Getenv("PRINT_AGENT_CONFIG"); path != "" {
		return path
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "print-agent", "agent.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "agent.toml"
	}
	return filepath.Join(home, ".config", "print-agent", "agent.toml")
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("print-agent %s\n", version)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	printBanner()

	configPath := getConfigPath()
	cfg, err := Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging.Level)

	agent, err := NewAgent(cfg, logger)
	if err != nil {
		return err
	}

	fmt.Printf("    ▶ Config:  %s\n", configPath)
	fmt.Printf("    ▶ Bridge:  %s\n", cfg.Bridge.URL)
	fmt.Printf("    ▶ Tenant:  %s\n", cfg.Bridge.TenantID)
	fmt.Printf("    ▶ Printer: %s\n", agent.printer.Describe())
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting print-agent",
		"version", version,
		"bridge", cfg.Bridge.URL,
		"tenant_id", cfg.Bridge.TenantID,
	)

	return agent.Run(ctx)
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
