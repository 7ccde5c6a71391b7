package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Rrens/chat-sessions/internal/config"
	"github.com/Rrens/chat-sessions/internal/repository/postgres"
	"github.com/joho/godotenv"
)

// Applies the postgres schema migrations. The sqlite, mysql and mongodb
// backends bootstrap their own schema on startup and do not need this.
func main() {
	_ = godotenv.Load()

	source := flag.String("source", "file://migrations", "migration source URL")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Migrating database at %s:%d...\n", cfg.Database.Host, cfg.Database.Port)

	if err := postgres.RunMigrations(cfg.Database.DSN(), *source); err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Migrations applied")
}
