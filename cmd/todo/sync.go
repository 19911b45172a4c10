package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/breez/todo-sync/client/connector"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upload queued changes to the backend",
	Long: `Connect to the backend and upload every queued transaction in order.

Transient failures are retried with exponential backoff until --timeout.
Transactions the backend refuses are moved to the dead letter list, see
"todo dead-letters". With --watch the command keeps running and uploads
new changes as they are made.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		watch, _ := cmd.Flags().GetBool("watch")

		uploader, err := connector.NewHTTPUploader(clientConfig.ServerURL, clientConfig.WebhookSecret)
		if err != nil {
			return err
		}
		c := connector.New(local, uploader, connector.Options{
			RetryInitial:  clientConfig.RetryInitial.Duration,
			RetryMax:      clientConfig.RetryMax.Duration,
			IdleInterval:  clientConfig.IdleInterval.Duration,
			UploadTimeout: clientConfig.UploadTimeout.Duration,
		})
		provider := connector.NewHTTPCredentialProvider(clientConfig.ServerURL, clientConfig.SessionToken)
		if err := c.Connect(cmd.Context(), provider); err != nil {
			return err
		}
		defer c.Disconnect()

		if watch {
			<-cmd.Context().Done()
			return nil
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			status := c.Status(ctx)
			if status.Pending == 0 && status.State == connector.Connected {
				fmt.Println("up to date")
				return nil
			}
			select {
			case <-ctx.Done():
				status := c.Status(context.Background())
				return fmt.Errorf("%v transactions still pending (%v): %v", status.Pending, status.State, status.LastError)
			case <-ticker.C:
			}
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the upload queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pending, err := local.PendingCount(cmd.Context())
		if err != nil {
			return err
		}
		letters, err := local.DeadLetters(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("user:         %v\n", local.Owner())
		fmt.Printf("pending:      %v\n", pending)
		fmt.Printf("dead letters: %v\n", len(letters))
		return nil
	},
}

var deadLettersCmd = &cobra.Command{
	Use:   "dead-letters",
	Short: "List transactions the backend refused",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		letters, err := local.DeadLetters(cmd.Context())
		if err != nil {
			return err
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(letters)
	},
}

func init() {
	syncCmd.Flags().Duration("timeout", time.Minute, "give up after this long")
	syncCmd.Flags().Bool("watch", false, "keep uploading changes until interrupted")

	localCommand(syncCmd)
	localCommand(statusCmd)
	localCommand(deadLettersCmd)
}
