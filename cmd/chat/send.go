package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"securechat/internal/client"
	"securechat/internal/clientcache"
)

var sendDirect string

func init() {
	sendCmd.Flags().StringVar(&sendDirect, "to", "", "send as a direct message to this user instead of a group")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send [groupId] <text>",
	Short: "Send a message to a group or, with --to, a user",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireIdentity(); err != nil {
			return err
		}

		path, err := cachePath()
		if err != nil {
			return err
		}
		cache, err := clientcache.Open(path)
		if err != nil {
			return err
		}
		defer cache.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		engine := client.NewEngine(cache, flagUser)
		c, err := client.Dial(ctx, flagServer, flagToken, engine, zap.NewNop())
		if err != nil {
			return err
		}
		defer c.Close()

		if sendDirect != "" {
			if len(args) != 1 {
				return fmt.Errorf("usage: chat send --to <user> <text>")
			}
			return c.SendDirectMessage(ctx, sendDirect, args[0])
		}

		if len(args) != 2 {
			return fmt.Errorf("usage: chat send <groupId> <text>")
		}
		return c.SendGroupMessage(ctx, args[0], args[1])
	},
}

func printGroupMessage(ts time.Time, author, content string) {
	fmt.Printf("[%s] %s: %s\n", ts.Local().Format("15:04:05"), author, content)
}
