package main

import (
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/latoulicious/reelcore/pkg/database"
	"github.com/latoulicious/reelcore/pkg/database/migration"
)

func main() {
	// Parse the command line arguments
	resetFlag := flag.Bool("reset", false, "Drop every table before migrating")
	rollbackFlag := flag.Bool("rollback", false, "Drop the playback query indexes and exit")
	flag.Parse()

	// Load the environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	db, err := database.NewGormDB(os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get SQL database: %v", err)
	}

	defer sqlDB.Close()
	log.Println("Connected to database")

	if *rollbackFlag {
		if err := migration.RollbackPlaybackQueryIndexes(db); err != nil {
			log.Fatalf("Failed to roll back: %v", err)
		}
		return
	}

	// Reset Flag
	if *resetFlag {
		log.Println("Resetting database...")

		db.Exec("SET session_replication_role = 'replica';")

		// Drop all tables
		err := db.Exec(`
			DO $$ DECLARE
			r RECORD;
			BEGIN
				FOR r IN (SELECT tablename FROM pg_tables WHERE schemaname = current_schema()) LOOP
					EXECUTE 'DROP TABLE IF EXISTS ' || quote_ident(r.tablename) || ' CASCADE';
				END LOOP;
			END $$;
		`).Error

		// Reset to normal state
		db.Exec("SET session_replication_role = 'origin';")

		if err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}

		log.Println("Database reset successfully")
	}

	if err := migration.RunMigration(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
}
