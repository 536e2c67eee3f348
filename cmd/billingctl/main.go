package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/PortNumber53/subscription-lifecycle/backend/internal/app"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/config"
)

var Version = "dev"

func main() {
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	rootCmd := newRootCmd(openApp)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return app.New(ctx, cfg)
}
