package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"quiz-room-service/internal/auth"
	"quiz-room-service/internal/config"
)

// NewTokenCmd mints a signed participant token, mainly for local testing
// against the websocket endpoint.
func NewTokenCmd(configPath *string) *cobra.Command {
	var participantID string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a participant token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			secret := cfg.Auth.Secret
			if secret == "" {
				secret = "dev-secret"
			}
			tokens := auth.NewJWTManager(secret, config.Duration(cfg.Auth.TokenTTL, 24*time.Hour))
			token, id, err := tokens.Issue(participantID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "participant: %s\ntoken: %s\n", id, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&participantID, "id", "", "participant id (a guest id is generated when empty)")
	return cmd
}
