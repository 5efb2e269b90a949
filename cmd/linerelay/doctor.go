package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"linerelay/internal/config"
	"linerelay/internal/provider"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your linerelay installation",
		Long: `Verifies that linerelay's configuration, credentials, journal database,
and inference providers are correctly set up. Reports pass/fail per check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("linerelay doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file (optional: env-only deployments are valid)
			if _, err := os.Stat(cfgPath); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s (using defaults + environment)", cfgPath))
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			// 2. Config loads and validates (includes credential checks)
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", passed, warned, failed)
				return fmt.Errorf("configuration invalid")
			}
			printPass("Config validation", "valid, credentials present")
			passed++

			// 3. Journal database writable
			if cfg.Journal.Enabled {
				if err := checkDatabase(cfg.Journal.DBPath); err != nil {
					printFail("Journal database", err.Error())
					failed++
				} else {
					printPass("Journal database", cfg.Journal.DBPath)
					passed++
				}
			}

			// 4. Webhook port available
			if err := checkPort(cfg.Server.Port); err != nil {
				printWarn("Webhook port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
				warned++
			} else {
				printPass("Webhook port", fmt.Sprintf(":%d available", cfg.Server.Port))
				passed++
			}

			// 5. Provider health
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			factory := provider.NewFactory(cfg, logger)
			if p := factory.HealthyProvider(ctx); p != nil {
				printPass("Provider", p.Name()+" healthy")
				passed++
			} else {
				printFail("Provider", "no enabled provider passed its health check")
				failed++
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running linerelay.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nlinerelay should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! linerelay is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")
	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
