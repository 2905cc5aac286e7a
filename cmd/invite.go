package cmd

import (
	"fmt"

	"cotrack/core/invite"

	"github.com/spf13/cobra"
)

var inviteCount int

var inviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "邀请码工具",
}

var inviteGenCmd = &cobra.Command{
	Use:   "gen",
	Short: "生成邀请码（不写入数据库）",
	RunE: func(cmd *cobra.Command, args []string) error {
		issuer := invite.NewIssuer(cfg.InviteMaxAttempts)
		for i := 0; i < inviteCount; i++ {
			code, err := issuer.Issue()
			if err != nil {
				return err
			}
			fmt.Println(invite.Format(code))
		}
		return nil
	},
}

var inviteCheckCmd = &cobra.Command{
	Use:   "check <code>...",
	Short: "检查邀请码格式",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		invalid := 0
		for _, code := range args {
			if invite.Validate(code) {
				fmt.Printf("%s\tvalid\t%s\n", code, invite.Normalize(code))
				continue
			}
			invalid++
			fmt.Printf("%s\tinvalid\n", code)
		}
		if invalid > 0 {
			return fmt.Errorf("%d 个邀请码格式错误", invalid)
		}
		return nil
	},
}

func init() {
	inviteGenCmd.Flags().IntVarP(&inviteCount, "count", "n", 1, "生成数量")
	inviteCmd.AddCommand(inviteGenCmd, inviteCheckCmd)
	rootCmd.AddCommand(inviteCmd)
}
