package cmd

import (
	"fmt"
	"os"

	"cotrack/config"
	"cotrack/logger"
	"cotrack/server"

	"github.com/spf13/cobra"
)

// cfg 在 PersistentPreRun 中加载，所有子命令共享
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "cotrack",
	Short: "cotrack is a collaborative playlist service.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		logger.InitLogger(logger.Config{
			Level:      logger.LogLevel(cfg.LogLevel),
			OutputPath: cfg.LogFile,
			MaxSize:    cfg.LogMaxSize,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAge,
			Compress:   true,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Info("Starting cotrack server...")
		return server.Start(cfg)
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
