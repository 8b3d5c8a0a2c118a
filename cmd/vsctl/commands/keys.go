package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/postgres"
)

var (
	keyName      string
	keyPerMinute int
	keyExpiresIn time.Duration
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys of the query API",
	Long: `Create, list and revoke the API keys checked by the searcher when
auth.enabled is set. Keys are stored in Postgres as SHA-256 digests; the raw
key is printed once, by create.

Examples:
  vsctl keys create --name mobile-app --per-minute 600 --expires-in 720h
  vsctl keys list
  vsctl keys revoke 12`,
}

// withKeys connects to Postgres and runs fn with the key table.
func withKeys(cmd *cobra.Command, fn func(keys *apikey.Keys) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(cmd.Context()); err != nil {
		return err
	}
	return fn(apikey.New(db))
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a key and print it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var expiresAt *time.Time
		if keyExpiresIn > 0 {
			t := time.Now().Add(keyExpiresIn).UTC()
			expiresAt = &t
		}
		return withKeys(cmd, func(keys *apikey.Keys) error {
			raw, info, err := keys.Create(cmd.Context(), keyName, keyPerMinute, expiresAt)
			if err != nil {
				return err
			}
			return printJSON(cmd, struct {
				Key string `json:"key"`
				*apikey.KeyInfo
			}{raw, info})
		})
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKeys(cmd, func(keys *apikey.Keys) error {
			list, err := keys.List(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, list)
		})
	},
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <id>",
	Short: "Revoke a key by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid key id %q", args[0])
		}
		return withKeys(cmd, func(keys *apikey.Keys) error {
			if err := keys.Revoke(cmd.Context(), id); err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"revoked": id})
		})
	},
}

func init() {
	f := keysCreateCmd.Flags()
	f.StringVar(&keyName, "name", "", "owner of the key (required)")
	f.IntVar(&keyPerMinute, "per-minute", 0, "queries per minute, 0 for unlimited")
	f.DurationVar(&keyExpiresIn, "expires-in", 0, "lifetime of the key, 0 for no expiry")
	_ = keysCreateCmd.MarkFlagRequired("name")

	keysCmd.AddCommand(keysCreateCmd, keysListCmd, keysRevokeCmd)
}
