package cmd

import (
	"cotrack/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动cotrack服务器",
	Long:  `启动协作歌单的HTTP服务器，提供REST API与WebSocket实时通道`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Start(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
