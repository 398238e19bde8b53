package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/asanchezmanas/tactics/internal/pkg/logger"
)

var migrateDir string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply SQL migrations in sorted filename order",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := openDeps(ctx)
		if err != nil {
			return err
		}
		defer d.close()
		if d.db == nil {
			return fmt.Errorf("migrate requires a database (set database.url or DATABASE_URL)")
		}

		entries, err := os.ReadDir(migrateDir)
		if err != nil {
			return fmt.Errorf("read migrations dir %s: %w", migrateDir, err)
		}
		var files []string
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
				files = append(files, e.Name())
			}
		}
		sort.Strings(files)

		for _, name := range files {
			path := filepath.Join(migrateDir, name)
			stmt, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			if _, err := d.db.ExecContext(ctx, string(stmt)); err != nil {
				return fmt.Errorf("apply %s: %w", name, err)
			}
			logger.Info("migration applied", "file", name)
		}
		fmt.Printf("applied %d migration(s)\n", len(files))
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateDir, "dir", "migrations", "migrations directory")
}
