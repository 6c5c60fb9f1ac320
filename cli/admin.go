package cli

import (
	"errors"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/compozy/knowledgebase/engine/infra/postgres"
	"github.com/compozy/knowledgebase/pkg/config"
	"github.com/compozy/knowledgebase/pkg/logger"
)

var errDropNotConfirmed = errors.New("refusing to drop the knowledge base without --yes")

func MigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the knowledge base schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			dsn := config.FromContext(ctx).Database.DSN()
			out, err := newPrinter(cmd)
			if err != nil {
				return err
			}
			if err := postgres.ApplyMigrations(ctx, dsn); err != nil {
				return err
			}
			version, err := postgres.SchemaVersion(ctx, dsn)
			if err != nil {
				return err
			}
			if out.json {
				return out.JSON(map[string]any{"schema_version": version})
			}
			out.Linef("%s schema version %d", okStyle.Render("migrated"), version)
			return nil
		},
	}
}

func DropCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop the knowledge base tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			yes, err := cmd.Flags().GetBool("yes")
			if err != nil {
				return err
			}
			if !yes {
				return errDropNotConfirmed
			}
			ctx := cmd.Context()
			out, err := newPrinter(cmd)
			if err != nil {
				return err
			}
			if err := postgres.Drop(ctx, config.FromContext(ctx).Database.DSN()); err != nil {
				return err
			}
			logger.FromContext(ctx).Warn("Knowledge base dropped")
			if out.json {
				return out.JSON(map[string]any{"dropped": true})
			}
			out.Linef("%s knowledge base tables", warnStyle.Render("dropped"))
			return nil
		},
	}
	cmd.Flags().Bool("yes", false, "confirm that all documents and chunks are deleted")
	return cmd
}

func StatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show document and chunk counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := config.FromContext(ctx)
			out, err := newPrinter(cmd)
			if err != nil {
				return err
			}
			st, closeStore, err := openStore(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer closeStore()
			stats, err := st.Stats(ctx)
			if err != nil {
				return err
			}
			version, err := postgres.SchemaVersion(ctx, cfg.Database.DSN())
			if err != nil {
				return err
			}
			if out.json {
				return out.JSON(map[string]any{
					"schema_version":  version,
					"documents":       stats.Documents,
					"chunks":          stats.Chunks,
					"embedded_chunks": stats.EmbeddedChunks,
				})
			}
			return out.Table([]string{"metric", "value"}, [][]string{
				{"schema version", strconv.FormatInt(version, 10)},
				{"documents", strconv.FormatInt(stats.Documents, 10)},
				{"chunks", strconv.FormatInt(stats.Chunks, 10)},
				{"embedded chunks", strconv.FormatInt(stats.EmbeddedChunks, 10)},
			})
		},
	}
}

func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as JSON with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromContext(cmd.Context())
			return (&printer{w: cmd.OutOrStdout(), json: true}).JSON(redactedConfig(cfg))
		},
	})
	return cmd
}

// redactedConfig hides the password embedded in an explicit connection string.
func redactedConfig(cfg *config.Config) config.Config {
	shown := *cfg
	if shown.Database.ConnString != "" {
		shown.Database.ConnString = config.RedactDSN(shown.Database.ConnString)
	}
	return shown
}
