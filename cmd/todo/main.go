// Command todo is an offline-first todo client. Writes land in a local
// sqlite database and are uploaded to the backend by "todo sync".
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/breez/todo-sync/client/localstore"
	"github.com/breez/todo-sync/config"
	"github.com/breez/todo-sync/logging"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
)

var (
	clientConfig *config.ClientConfig
	local        *localstore.Store
	logCloser    io.Closer
)

var rootCmd = &cobra.Command{
	Use:           "todo",
	Short:         "Offline-first todo list",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openLocal loads the client config and opens the local database. It is
// used as PersistentPreRunE by every command that touches local data.
func openLocal(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewClientConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	clientConfig = cfg
	logCloser = logging.Setup(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)

	owner, err := sessionUser(cfg.SessionToken)
	if err != nil {
		return err
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID, _ = os.Hostname()
	}
	local, err = localstore.Open(cfg.DBPath, owner, clientID)
	if err != nil {
		return fmt.Errorf("failed to open %v: %w", cfg.DBPath, err)
	}
	return nil
}

func closeLocal(cmd *cobra.Command, args []string) error {
	if local != nil {
		local.Close()
	}
	if logCloser != nil {
		logCloser.Close()
	}
	return nil
}

// sessionUser reads the user id out of the session token. The signature
// is checked by the backend; locally the token only names the owner.
func sessionUser(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("TODO_SESSION_TOKEN is not set, create one with \"todo session <user>\"")
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("invalid session token: %w", err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("session token has no subject")
	}
	return claims.Subject, nil
}

func localCommand(cmd *cobra.Command) *cobra.Command {
	cmd.PersistentPreRunE = openLocal
	cmd.PersistentPostRunE = closeLocal
	rootCmd.AddCommand(cmd)
	return cmd
}
