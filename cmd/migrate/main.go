package main

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	appconfig "github.com/wolfman30/hospital-scheduling/internal/config"
	appmigrations "github.com/wolfman30/hospital-scheduling/migrations"
	"github.com/wolfman30/hospital-scheduling/pkg/logging"
)

func main() {
	_ = appconfig.LoadDotEnv()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	databaseURL := strings.TrimSpace(cfg.DatabaseURL)
	if databaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		logger.Error("open db", "error", err)
		os.Exit(1)
	}
	if err := db.Ping(); err != nil {
		logger.Error("ping db", "error", err)
		os.Exit(1)
	}

	m, err := appmigrations.NewMigrator(db)
	if err != nil {
		logger.Error("build migrator", "error", err)
		os.Exit(1)
	}
	defer func() { _, _ = m.Close() }()

	// migrate force <version>
	if len(os.Args) >= 3 && os.Args[1] == "force" {
		version, err := strconv.Atoi(os.Args[2])
		if err != nil {
			logger.Error("invalid version", "error", err)
			os.Exit(1)
		}
		if err := m.Force(version); err != nil {
			logger.Error("force version", "error", err)
			os.Exit(1)
		}
		fmt.Printf("forced version to %d\n", version)
		return
	}

	if len(os.Args) >= 2 && os.Args[1] == "down" {
		if err := m.Steps(-1); err != nil {
			logger.Error("migrate down", "error", err)
			os.Exit(1)
		}
		fmt.Println("rolled back one migration")
		return
	}

	if err := appmigrations.Up(m); err != nil {
		logger.Error("migrate up", "error", err)
		os.Exit(1)
	}
	fmt.Println("migrations complete")
}
