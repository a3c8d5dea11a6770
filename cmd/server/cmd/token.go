package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/coverline/server/internal/auth"
)

var tokenRole string

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Mint a staff JWT",
	Long: `Mint a signed JWT for a staff user. Signing uses the same
JWT_SECRET the server validates against, so the token works
immediately against a running instance.

Roles: admin, manager, agent, viewer.

Examples:
  # Mint an admin token for local testing
  coverline token alice --role admin`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mintToken(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenRole, "role", "viewer", "role claim for the token")
}

func mintToken(cmd *cobra.Command, subject string) error {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	expiry := 24 * time.Hour
	if hours := os.Getenv("JWT_EXPIRY_HOURS"); hours != "" {
		if parsed, err := strconv.Atoi(hours); err == nil && parsed > 0 {
			expiry = time.Duration(parsed) * time.Hour
		}
	}
	issuer := os.Getenv("JWT_ISSUER")
	if issuer == "" {
		issuer = "coverline"
	}

	role := string(auth.NormalizeRole(tokenRole))
	manager := auth.NewJWTManager(secret, expiry, issuer)
	token, err := manager.Generate(subject, role)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Subject: %s\nRole:    %s\nExpires: %s\n\n", subject, role, time.Now().Add(expiry).Format(time.RFC3339))
	fmt.Fprintln(out, token)
	fmt.Fprintf(out, "\nTest with:\n  curl -H 'Authorization: Bearer %s' http://localhost:8080/api/v1/leads\n", token)
	return nil
}
