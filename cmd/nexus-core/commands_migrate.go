package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus-core/internal/config"
	"github.com/haasonsaas/nexus-core/internal/memory/backend/pgvector"
)

// buildMigrateCmd is deliberately narrower than the teacher's migrate tree
// (no up/down/status/workspace-import subcommands): this module's
// relational schema is applied idempotently at store-open time
// (storage.NewSQLiteStores/NewPostgresStores run "CREATE TABLE IF NOT
// EXISTS" inline), so there is nothing to step through. "migrate" here
// means "open the configured store and knowledge-base backend, ensuring
// both schemas exist, then report so."
func buildMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Ensure the configured storage and knowledge-base schemas exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to nexus-core.toml")
	return cmd
}

func runMigrate(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	stores, err := openStores(cfg)
	if err != nil {
		return fmt.Errorf("ensure relational schema: %w", err)
	}
	defer stores.Close()
	fmt.Printf("relational schema ready (driver=%s)\n", cfg.Storage.Driver)

	if cfg.KB.VectorDSN == "" {
		fmt.Println("knowledge base not configured, skipping vector schema")
		return nil
	}

	b, err := pgvector.New(pgvector.Config{DSN: cfg.KB.VectorDSN, Dimension: 1536, RunMigrations: true})
	if err != nil {
		return fmt.Errorf("ensure knowledge-base schema: %w", err)
	}
	defer b.Close()
	fmt.Println("knowledge-base vector schema ready")
	return nil
}
