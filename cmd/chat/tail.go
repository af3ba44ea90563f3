package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"securechat/internal/client"
	"securechat/internal/clientcache"
)

func init() {
	rootCmd.AddCommand(tailCmd)
}

var tailCmd = &cobra.Command{
	Use:   "tail <groupId>",
	Short: "Print a room's cached history, then stream live messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireIdentity(); err != nil {
			return err
		}
		groupID := args[0]

		path, err := cachePath()
		if err != nil {
			return err
		}
		cache, err := clientcache.Open(path)
		if err != nil {
			return err
		}
		defer cache.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		engine := client.NewEngine(cache, flagUser)

		// Render from the cache first; the server fills in the rest.
		cached, err := engine.GroupMessages(ctx, groupID)
		if err != nil {
			return err
		}
		for _, m := range cached {
			printGroupMessage(m.Timestamp, m.Author, m.Content)
		}

		c, err := client.Dial(ctx, flagServer, flagToken, engine, zap.NewNop())
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.RequestGroupHistory(groupID); err != nil {
			return err
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case note, ok := <-c.Notifications():
				if !ok {
					return fmt.Errorf("connection closed")
				}
				switch note.Kind {
				case client.NoteGroupMessage:
					if note.Group.GroupID == groupID {
						printGroupMessage(note.Group.Timestamp, note.Group.Author, note.Group.Content)
					}
				case client.NoteGroupHistoryLoaded:
					if note.GroupID == groupID {
						// Re-render: replayed history may have filled gaps.
						msgs, err := engine.GroupMessages(ctx, groupID)
						if err != nil {
							return err
						}
						fmt.Printf("--- %d messages ---\n", len(msgs))
						for _, m := range msgs {
							printGroupMessage(m.Timestamp, m.Author, m.Content)
						}
					}
				case client.NotePresenceChanged:
					fmt.Printf("* online: %v\n", note.Users)
				}
			}
		}
	},
}
