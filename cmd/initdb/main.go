package main

import (
	"context"
	"fmt"
	"log"

	"arbwatch/internal/config"
	"arbwatch/internal/database"
	"github.com/spf13/pflag"
)

func main() {
	configDir := pflag.StringP("config", "c", ".", "directory containing config.yaml or config.json")
	pflag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	ctx := context.Background()
	repo, err := database.Open(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("cannot open database: %v", err)
	}
	defer repo.Close()

	if err := repo.Migrate(ctx); err != nil {
		log.Fatalf("cannot migrate database: %v", err)
	}
	fmt.Printf("Database initialized at %s\n", database.Location(cfg.Storage))
}
