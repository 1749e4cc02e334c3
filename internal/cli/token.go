package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/churnwatch/churnwatch/internal/api"
)

// NewTokenCommand creates the token command
func NewTokenCommand(a *app) *cobra.Command {
	var (
		user  string
		roles []string
		ttl   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for the API",
		Long:  `Sign a bearer token with api.jwt_secret for the reconnect and refresh endpoints.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			auth := api.NewAuthMiddleware(a.cfg.API.JWTSecret, a.logger)
			token, err := auth.GenerateJWT(user, roles, ttl)
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "operator", "Token subject")
	cmd.Flags().StringSliceVar(&roles, "role", []string{api.RoleOperator}, "Roles granted by the token")
	cmd.Flags().DurationVar(&ttl, "ttl", api.DefaultTokenTTL, "Token lifetime")

	return cmd
}
