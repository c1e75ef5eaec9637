package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/af-corp/chorus/internal/auth"
	"github.com/af-corp/chorus/internal/types"
)

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysCreateCmd)
	keysCmd.AddCommand(keysRevokeCmd)

	f := keysCreateCmd.Flags()
	f.String("name", "", "human-friendly key name (required)")
	f.String("owner", "", "owning team or person")
	f.String("env", "prod", "environment segment of the key")
	f.StringSlice("providers", nil, "providers the key's requests may use (default: all)")
	f.Int("rpm", 0, "requests per minute (0 = server default)")
	f.Int("daily-calls", 0, "model calls per UTC day (0 = server default)")
	f.String("expires", "365d", "expiry duration (e.g. 365d, 720h)")
	keysCreateCmd.MarkFlagRequired("name")
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an API key and print it once",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		name, _ := f.GetString("name")
		owner, _ := f.GetString("owner")
		env, _ := f.GetString("env")
		providers, _ := f.GetStringSlice("providers")
		rpm, _ := f.GetInt("rpm")
		dailyCalls, _ := f.GetInt("daily-calls")
		expires, _ := f.GetString("expires")

		allowed, err := normalizeProviders(providers)
		if err != nil {
			return err
		}
		dur, err := auth.ParseDuration(expires)
		if err != nil {
			return fmt.Errorf("invalid --expires: %w", err)
		}

		rawKey, err := auth.GenerateKey(env)
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		pool, err := connect(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		expiresAt := time.Now().Add(dur)
		id, err := auth.NewCachedKeyStore(pool, nil).Create(ctx, rawKey, auth.NewKey{
			Name:             name,
			Owner:            owner,
			AllowedProviders: allowed,
			RPMLimit:         positive(rpm),
			DailyCallLimit:   positive(dailyCalls),
			ExpiresAt:        expiresAt,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "=== Chorus API Key Created ===")
		fmt.Fprintln(out)
		fmt.Fprintf(out, "  Key ID:      %s\n", id)
		fmt.Fprintf(out, "  Key Prefix:  %s\n", auth.KeyPrefix(rawKey))
		fmt.Fprintf(out, "  Name:        %s\n", name)
		if owner != "" {
			fmt.Fprintf(out, "  Owner:       %s\n", owner)
		}
		if len(allowed) > 0 {
			fmt.Fprintf(out, "  Providers:   %s\n", strings.Join(allowed, ", "))
		}
		fmt.Fprintf(out, "  Expires:     %s\n", expiresAt.Format(time.RFC3339))
		fmt.Fprintln(out)
		fmt.Fprintln(out, "  API Key (it will not be shown again):")
		fmt.Fprintf(out, "  %s\n", rawKey)
		return nil
	},
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <key-prefix>",
	Short: "Revoke every active key with the given prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		pool, err := connect(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		rdb := redisClient(ctx)
		if rdb != nil {
			defer rdb.Close()
		}

		n, err := auth.NewCachedKeyStore(pool, rdb).Revoke(ctx, args[0])
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("no active key with prefix %q", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "revoked %d key(s) with prefix %s\n", n, args[0])
		return nil
	},
}

// normalizeProviders maps provider aliases to their canonical names.
func normalizeProviders(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, s := range in {
		p, ok := types.ParseProvider(s)
		if !ok {
			return nil, fmt.Errorf("unknown provider %q", s)
		}
		out = append(out, string(p))
	}
	return out, nil
}

func positive(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}
