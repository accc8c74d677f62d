package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"danmu/internal/config"
	"danmu/internal/daemonrun"
)

const (
	envConfig   = "DANMU_CONFIG"
	envLogLevel = "DANMU_LOG_LEVEL"
)

func newRootCommand() *cobra.Command {
	var (
		configPath  string
		logLevel    string
		development bool
	)
	cmd := &cobra.Command{
		Use:           "danmud",
		Short:         "Danmaku acquisition daemon",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, _, err := config.Load(firstNonEmpty(configPath, os.Getenv(envConfig)))
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, runOptions(logLevel, development))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path (or $"+envConfig+")")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level (or $"+envLogLevel+")")
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log output")
	return cmd
}

func runOptions(logLevel string, development bool) daemonrun.Options {
	return daemonrun.Options{
		LogLevel:    firstNonEmpty(logLevel, os.Getenv(envLogLevel)),
		Development: development,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
