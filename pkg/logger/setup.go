package logger

import (
	"fmt"

	"github.com/spf13/cobra"
)

func SetupLogger(logLevel string, logJSON, logSource bool) {
	Init(&Config{
		Level:      ParseLevel(logLevel),
		JSON:       logJSON,
		AddSource:  logSource,
		TimeFormat: "15:04:05",
	})
}

// RegisterFlags adds the persistent logging flags read by GetLoggerConfig.
func RegisterFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("log-level", string(InfoLevel), "log level (debug, info, warn, error, disabled)")
	cmd.PersistentFlags().Bool("log-json", false, "emit logs as JSON")
	cmd.PersistentFlags().Bool("log-source", false, "include caller information in logs")
}

func GetLoggerConfig(cmd *cobra.Command) (string, bool, bool, error) {
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return "", false, false, fmt.Errorf("failed to get log-level flag: %w", err)
	}

	logJSON, err := cmd.Flags().GetBool("log-json")
	if err != nil {
		return "", false, false, fmt.Errorf("failed to get log-json flag: %w", err)
	}

	logSource, err := cmd.Flags().GetBool("log-source")
	if err != nil {
		return "", false, false, fmt.Errorf("failed to get log-source flag: %w", err)
	}

	return logLevel, logJSON, logSource, nil
}
