package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/compozy/knowledgebase/pkg/config"
	"github.com/compozy/knowledgebase/pkg/logger"
)

// configKeyAnnotation binds a flag to the configuration key it overrides.
const configKeyAnnotation = "config_key"

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kb",
		Short:         "Knowledge base ingestion and retrieval",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return SetupGlobalConfig(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "path to a YAML configuration file")
	flags.String("env-file", "", "path to an environment file (defaults to .env when present)")
	flags.String("format", FormatAuto, "output format (auto, text, json)")
	flags.String("database-url", "", "Postgres connection string")
	flags.String("embedding-url", "", "base URL of the embedding service")
	bindFlag(flags, "database-url", "database.conn_string")
	bindFlag(flags, "embedding-url", "embedding_client.url")
	logger.RegisterFlags(root)

	root.AddCommand(
		ServeEmbedderCmd(),
		IngestCmd(),
		SearchCmd(),
		HealthCmd(),
		MigrateCmd(),
		DropCmd(),
		StatsCmd(),
		ConfigCmd(),
	)
	return root
}

// SetupGlobalConfig initializes the logger, loads the layered configuration
// and stores both in the command context.
func SetupGlobalConfig(cmd *cobra.Command) error {
	level, logJSON, logSource, err := logger.GetLoggerConfig(cmd)
	if err != nil {
		return err
	}
	logger.SetupLogger(level, logJSON, logSource)
	ctx := logger.ContextWithLogger(cmd.Context(), logger.GetDefault())

	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return fmt.Errorf("failed to get env-file flag: %w", err)
	}
	cfg, err := config.Load(ctx, config.LoadOptions{
		ConfigFile: configFile,
		EnvFile:    envFile,
		Overrides:  flagOverrides(cmd.Flags()),
	})
	if err != nil {
		return err
	}
	cmd.SetContext(config.ContextWithConfig(ctx, cfg))
	return nil
}

func bindFlag(flags *pflag.FlagSet, name, key string) {
	if err := flags.SetAnnotation(name, configKeyAnnotation, []string{key}); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", name, err))
	}
}

// flagOverrides collects the explicitly set flags that carry a config key.
func flagOverrides(flags *pflag.FlagSet) map[string]any {
	overrides := make(map[string]any)
	flags.Visit(func(f *pflag.Flag) {
		keys := f.Annotations[configKeyAnnotation]
		if len(keys) == 0 {
			return
		}
		overrides[keys[0]] = f.Value.String()
	})
	return overrides
}
