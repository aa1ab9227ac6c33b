package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/aihub/rag-service/internal/config"
	"github.com/aihub/rag-service/internal/database"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	_ "github.com/lib/pq" // PostgreSQL driver
)

func main() {
	var action = flag.String("action", "up", "Migration action: up, down, steps, version, status, force")
	var steps = flag.Int("steps", 1, "Number of steps for the steps action (negative rolls back)")
	var version = flag.Int("version", -1, "Target version for force")
	flag.Parse()

	_ = godotenv.Load()

	// 初始化配置
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is not configured")
	}

	// 连接数据库
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	migrationManager, err := database.NewMigrationManager(db, logger)
	if err != nil {
		log.Fatalf("Failed to create migration manager: %v", err)
	}
	defer migrationManager.Close()

	switch *action {
	case "up":
		fmt.Println("Running migrations up...")
		if err := migrationManager.Up(); err != nil {
			log.Fatalf("Migration up failed: %v", err)
		}
		fmt.Println("Migrations completed successfully")

	case "down":
		fmt.Println("Rolling back last migration...")
		if err := migrationManager.Down(); err != nil {
			log.Fatalf("Migration down failed: %v", err)
		}
		fmt.Println("Rollback completed successfully")

	case "steps":
		fmt.Printf("Applying %d migration step(s)...\n", *steps)
		if err := migrationManager.Steps(*steps); err != nil {
			log.Fatalf("Migration steps failed: %v", err)
		}
		fmt.Println("Steps applied successfully")

	case "version":
		current, dirty, err := migrationManager.Version()
		if err != nil {
			log.Fatalf("Failed to get version: %v", err)
		}
		fmt.Printf("Current version: %d", current)
		if dirty {
			fmt.Printf(" (dirty)")
		}
		fmt.Println()

	case "status":
		current, dirty, err := migrationManager.Version()
		if err != nil {
			log.Fatalf("Failed to get version: %v", err)
		}
		fmt.Printf("Current version: %d", current)
		if dirty {
			fmt.Printf(" (dirty - manual intervention required)")
		}
		fmt.Println()

		pending, err := migrationManager.Pending()
		if err != nil {
			log.Fatalf("Failed to check pending migrations: %v", err)
		}
		if pending {
			fmt.Println("Status: Pending migrations available")
		} else {
			fmt.Println("Status: All migrations applied")
		}

	case "force":
		if *version < 0 {
			log.Fatal("Version must be specified for force action")
		}
		if err := migrationManager.Force(*version); err != nil {
			log.Fatalf("Force version %d failed: %v", *version, err)
		}
		fmt.Printf("Forced version %d\n", *version)

	default:
		fmt.Printf("Unknown action: %s\n", *action)
		fmt.Println("Available actions: up, down, steps, version, status, force")
		os.Exit(1)
	}
}
