package cmd

import (
	"fmt"

	"cotrack/db"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "创建或更新数据表",
	Long:  `按 DB_DRIVER 连接 MySQL 或 PostgreSQL 并建表，已存在的表不会被删除`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("开始迁移数据库 (driver: %s)...\n", cfg.DBDriver)
		_, closeStore, err := db.OpenStore(cmd.Context(), cfg, true)
		if err != nil {
			return fmt.Errorf("数据库迁移失败: %w", err)
		}
		defer closeStore()
		fmt.Println("数据库迁移完成。")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
