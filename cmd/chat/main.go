// Command chat is a terminal client for the securechat server. It
// keeps a durable local cache of conversation history, so rooms render
// instantly from disk and the server only fills in what is missing.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	flagServer string
	flagToken  string
	flagUser   string
	flagCache  string
)

var rootCmd = &cobra.Command{
	Use:          "chat",
	Short:        "Terminal client for securechat",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "http://localhost:8000", "server base URL")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", os.Getenv("SECURECHAT_TOKEN"), "bearer token (or SECURECHAT_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&flagUser, "user", os.Getenv("SECURECHAT_USER"), "username (or SECURECHAT_USER)")
	rootCmd.PersistentFlags().StringVar(&flagCache, "cache", "", "path to the local cache (default ~/.securechat/<user>.db)")
}

// cachePath resolves the per-user cache location.
func cachePath() (string, error) {
	if flagCache != "" {
		return flagCache, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".securechat")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create cache directory: %w", err)
	}
	return filepath.Join(dir, flagUser+".db"), nil
}

func requireIdentity() error {
	if flagUser == "" || flagToken == "" {
		return fmt.Errorf("--user and --token are required (see 'chat login')")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
