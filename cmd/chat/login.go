package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <username> <password>",
	Short: "Obtain a bearer token from the server",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := json.Marshal(map[string]string{
			"username": args[0],
			"password": args[1],
		})
		if err != nil {
			return err
		}

		resp, err := http.Post(flagServer+"/login", "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("login request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			var msg struct {
				Message string `json:"message"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&msg)
			return fmt.Errorf("login failed (%d): %s", resp.StatusCode, msg.Message)
		}

		var tok struct {
			AccessToken string `json:"access_token"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
			return fmt.Errorf("decode login response: %w", err)
		}

		fmt.Printf("export SECURECHAT_USER=%s\n", args[0])
		fmt.Printf("export SECURECHAT_TOKEN=%s\n", tok.AccessToken)
		return nil
	},
}
