package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/coverline/server/internal/auth"
	"github.com/coverline/server/internal/storage/postgres"
)

var (
	apiKeyRole    string
	apiKeySource  string
	apiKeyTier    string
	apiKeyExpires string
)

var apiKeyCmd = &cobra.Command{
	Use:   "api-key",
	Short: "Manage partner API keys",
	Long: `Manage API keys for the lead intake API.

Keys authenticate partner lead sources and carry a role and a
rate-limit tier. The key value is shown once at creation and cannot
be retrieved later.

Examples:
  # Create a partner key tied to a lead source
  coverline api-key create acme-aggregator --source acme

  # Create an admin key
  coverline api-key create ops-admin --role admin --tier admin

  # List all keys
  coverline api-key list

  # Revoke a key by its prefix
  coverline api-key revoke cl_0a1b2`,
}

var apiKeyCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return createAPIKey(args[0])
	},
}

var apiKeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all API keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listAPIKeys()
	},
}

var apiKeyRevokeCmd = &cobra.Command{
	Use:   "revoke <prefix>",
	Short: "Revoke an API key by prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return revokeAPIKey(args[0])
	},
}

func init() {
	rootCmd.AddCommand(apiKeyCmd)
	apiKeyCmd.AddCommand(apiKeyCreateCmd)
	apiKeyCmd.AddCommand(apiKeyListCmd)
	apiKeyCmd.AddCommand(apiKeyRevokeCmd)

	apiKeyCreateCmd.Flags().StringVar(&apiKeyRole, "role", "partner", "role for the key (partner or admin)")
	apiKeyCreateCmd.Flags().StringVar(&apiKeySource, "source", "", "lead source this partner key ingests for")
	apiKeyCreateCmd.Flags().StringVar(&apiKeyTier, "tier", "partner", "rate-limit tier (partner or admin)")
	apiKeyCreateCmd.Flags().StringVar(&apiKeyExpires, "expires", "", "expiry date (YYYY-MM-DD, default: never)")
}

// keyStore connects to the database and returns the key repository.
func keyStore(ctx context.Context) (*postgres.APIKeyRepository, func(), error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	repo, err := postgres.NewRepository(pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	keys, ok := repo.APIKeys().(*postgres.APIKeyRepository)
	if !ok {
		pool.Close()
		return nil, nil, fmt.Errorf("api key store does not support management operations")
	}
	return keys, pool.Close, nil
}

func createAPIKey(name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	keys, closeFn, err := keyStore(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	var expiresAt *time.Time
	if apiKeyExpires != "" {
		parsed, err := time.Parse("2006-01-02", apiKeyExpires)
		if err != nil {
			return fmt.Errorf("parse --expires: %w", err)
		}
		expiresAt = &parsed
	}

	key, err := auth.GenerateAPIKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	hash, err := auth.HashAPIKey(key)
	if err != nil {
		return fmt.Errorf("hash key: %w", err)
	}

	if _, err := keys.CreateAPIKey(ctx, postgres.CreateAPIKeyParams{
		Prefix:        key[:8],
		Hash:          hash,
		Name:          name,
		PartnerSource: apiKeySource,
		Role:          apiKeyRole,
		RateLimitTier: apiKeyTier,
		ExpiresAt:     expiresAt,
	}); err != nil {
		return err
	}

	fmt.Printf("API key created\n\n")
	fmt.Printf("Name:   %s\n", name)
	fmt.Printf("Role:   %s\n", apiKeyRole)
	fmt.Printf("Tier:   %s\n", apiKeyTier)
	if apiKeySource != "" {
		fmt.Printf("Source: %s\n", apiKeySource)
	}
	fmt.Printf("Key:    %s\n\n", key)
	fmt.Printf("Save this key - it cannot be retrieved later.\n\n")
	fmt.Printf("Usage:\n")
	fmt.Printf("  curl -H \"Authorization: Bearer %s\" -H \"Content-Type: application/json\" \\\n", key)
	fmt.Printf("       -d @lead.json http://localhost:8080/api/v1/leads\n")
	return nil
}

func listAPIKeys() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	keys, closeFn, err := keyStore(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	infos, err := keys.ListAPIKeys(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PREFIX\tNAME\tROLE\tTIER\tSOURCE\tSTATUS\tCREATED\tLAST USED")
	for _, info := range infos {
		status := "active"
		if !info.IsActive {
			status = "revoked"
		} else if info.ExpiresAt != nil && info.ExpiresAt.Before(time.Now()) {
			status = "expired"
		}
		lastUsed := "never"
		if info.LastUsedAt != nil {
			lastUsed = info.LastUsedAt.Format("2006-01-02")
		}
		source := info.PartnerSource
		if source == "" {
			source = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			info.Prefix, info.Name, info.Role, info.RateLimitTier,
			source, status, info.CreatedAt.Format("2006-01-02"), lastUsed)
	}
	w.Flush()

	if len(infos) == 0 {
		fmt.Println("\nNo API keys found. Create one with: coverline api-key create <name>")
	} else {
		fmt.Printf("\nTotal: %d API key(s)\n", len(infos))
	}
	return nil
}

func revokeAPIKey(prefix string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	keys, closeFn, err := keyStore(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := keys.RevokeAPIKey(ctx, prefix); err != nil {
		return fmt.Errorf("revoke key %s: %w", prefix, err)
	}
	fmt.Printf("API key revoked: %s\n", prefix)
	return nil
}
