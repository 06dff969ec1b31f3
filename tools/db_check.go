package tools

import (
	"fmt"
	"io"
	"time"

	"github.com/latoulicious/reelcore/pkg/database"
	"github.com/latoulicious/reelcore/pkg/database/models"
	"gorm.io/gorm"
)

// expectedTables are the tables RunMigration creates
var expectedTables = []string{
	"playback_errors",
	"playback_metrics",
	"playback_logs",
	"stall_events",
	"cache_entries",
}

// DBCheck verifies that the database behind databaseURL is reachable and
// usable by the engine, writing a report to out
func DBCheck(databaseURL string, out io.Writer) error {
	fmt.Fprintln(out, "=== PostgreSQL Database Connectivity Check ===")

	if databaseURL == "" {
		return fmt.Errorf("database URL is not set")
	}

	fmt.Fprintln(out, "Connecting to database...")
	db, err := database.NewGormDBFromConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database connection: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	fmt.Fprintln(out, "OK  connection established")

	var version string
	if err := db.Raw("SELECT version()").Scan(&version).Error; err != nil {
		return fmt.Errorf("failed to get database version: %w", err)
	}
	fmt.Fprintf(out, "OK  PostgreSQL version: %s\n", version)

	var extensionExists bool
	if err := db.Raw("SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'uuid-ossp')").Scan(&extensionExists).Error; err != nil {
		return fmt.Errorf("failed to check uuid-ossp extension: %w", err)
	}
	if extensionExists {
		fmt.Fprintln(out, "OK  uuid-ossp extension is available")
	} else {
		fmt.Fprintln(out, "WARN uuid-ossp extension not found, it will be created during migration")
	}

	stats := sqlDB.Stats()
	fmt.Fprintf(out, "    open connections: %d, in use: %d, idle: %d\n", stats.OpenConnections, stats.InUse, stats.Idle)

	if err := checkExistingTables(db, out); err != nil {
		fmt.Fprintf(out, "WARN table check: %v\n", err)
	}

	if err := testTransactionCapability(db); err != nil {
		return fmt.Errorf("transaction test failed: %w", err)
	}
	fmt.Fprintln(out, "OK  transaction capability verified")

	start := time.Now()
	var result int
	if err := db.Raw("SELECT 1").Scan(&result).Error; err != nil {
		return fmt.Errorf("performance test failed: %w", err)
	}
	duration := time.Since(start)
	fmt.Fprintf(out, "OK  simple query completed in %v\n", duration)
	if duration > 5*time.Second {
		fmt.Fprintln(out, "WARN query took longer than 5 seconds, check network latency")
	}

	fmt.Fprintln(out, "=== Database Connectivity Check Complete ===")
	return nil
}

// checkExistingTables reports which engine tables exist and how many stall
// events have been recorded
func checkExistingTables(db *gorm.DB, out io.Writer) error {
	var existingTables []string
	if err := db.Raw(`
		SELECT table_name 
		FROM information_schema.tables 
		WHERE table_schema = current_schema()
		AND table_type = 'BASE TABLE'
	`).Scan(&existingTables).Error; err != nil {
		return fmt.Errorf("failed to query existing tables: %w", err)
	}

	missing := MissingTables(existingTables)
	if len(missing) > 0 {
		fmt.Fprintf(out, "WARN missing tables (run the migration): %v\n", missing)
		return nil
	}
	fmt.Fprintln(out, "OK  all expected tables exist")

	var count int64
	if err := db.Model(&models.StallEvent{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count stall_events: %w", err)
	}
	fmt.Fprintf(out, "    stall_events table has %d records\n", count)
	return nil
}

// MissingTables returns the engine tables absent from existing
func MissingTables(existing []string) []string {
	tableMap := make(map[string]bool, len(existing))
	for _, table := range existing {
		tableMap[table] = true
	}

	var missing []string
	for _, expected := range expectedTables {
		if !tableMap[expected] {
			missing = append(missing, expected)
		}
	}
	return missing
}

// testTransactionCapability tests if the database supports transactions properly
func testTransactionCapability(db *gorm.DB) error {
	tx := db.Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}

	if err := tx.Exec("CREATE TEMPORARY TABLE test_transaction (id SERIAL PRIMARY KEY, test_data TEXT)").Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to create temporary table: %w", err)
	}

	if err := tx.Exec("INSERT INTO test_transaction (test_data) VALUES ('test')").Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to insert test data: %w", err)
	}

	var count int64
	if err := tx.Raw("SELECT COUNT(*) FROM test_transaction").Scan(&count).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to count test data: %w", err)
	}

	if count != 1 {
		tx.Rollback()
		return fmt.Errorf("unexpected count in transaction: expected 1, got %d", count)
	}

	// cleanup
	if err := tx.Rollback().Error; err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}

	return nil
}
