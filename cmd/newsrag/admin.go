package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/newsrag/config"
	"github.com/mohammad-safakhou/newsrag/internal/articles"
	"github.com/mohammad-safakhou/newsrag/internal/store"
)

func rebuildCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Re-embed every article and replace the persisted index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			stats, err := a.svc.Rebuild(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
}

func ingestCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Normalize article files and add them to the store and index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.warm(ctx); err != nil {
				return err
			}
			var rejected int
			files := make([]map[string]any, 0, len(args))
			for _, path := range args {
				res, err := articles.LoadFile(path)
				if err != nil {
					return fmt.Errorf("load %s: %w", path, err)
				}
				rejected += len(res.Rejected)
				stats, err := a.svc.Ingest(ctx, res.Articles...)
				if err != nil {
					return err
				}
				files = append(files, map[string]any{"file": path, "stats": stats, "rejected": len(res.Rejected)})
			}
			return printJSON(map[string]any{"files": files, "rejected": rejected})
		},
	}
}

func migrateCMD(cfgPath *string) *cobra.Command {
	var migDir string
	var direction string
	var steps int

	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			dsn, err := store.DSN(cfg.Storage.Postgres)
			if err != nil {
				return err
			}
			return store.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", store.DefaultMigrationsDir, "migrations source (file://migrations)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return migrate
}
