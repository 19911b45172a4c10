package main

import (
	"fmt"

	"github.com/breez/todo-sync/config"
	"github.com/breez/todo-sync/session"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session <user>",
	Short: "Mint a session token for a user",
	Long: `Mint a session token signed with the server's SESSION_SECRET.

This is a development helper for deployments without a separate login
service. Export the output as TODO_SESSION_TOKEN.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.NewConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		manager, err := session.NewManager(cfg.SessionSecret, cfg.SessionIssuer, cfg.SessionTTL.Duration)
		if err != nil {
			return err
		}
		token, err := manager.GenerateToken(args[0])
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
}
