package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vidgen/internal/infra"
	"vidgen/internal/infra/credentials"
)

// tokenCmd writes provider API keys into the integration_tokens table read by
// "db:<provider>" credential references. It talks to Postgres directly.
func tokenCmd() *cobra.Command {
	tok := &cobra.Command{Use: "token", Short: "Manage stored provider tokens"}
	tok.PersistentFlags().String("database-url", "", "Postgres URL (defaults to $DATABASE_URL)")
	_ = viper.BindPFlag("database-url", tok.PersistentFlags().Lookup("database-url"))

	var props string
	set := &cobra.Command{
		Use:   "set <provider> <token>",
		Short: "Store or replace a provider token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var meta map[string]any
			if props != "" {
				if err := json.Unmarshal([]byte(props), &meta); err != nil {
					return fmt.Errorf("--properties: %w", err)
				}
			}
			resolver, closeDB, err := openResolver(cmd)
			if err != nil {
				return err
			}
			defer closeDB()
			if err := resolver.Migrate(cmd.Context()); err != nil {
				return err
			}
			if err := resolver.SetToken(cmd.Context(), args[0], args[1], meta); err != nil {
				return err
			}
			fmt.Printf("token stored for %s\n", args[0])
			return nil
		},
	}
	set.Flags().StringVar(&props, "properties", "", "JSON object stored next to the token")

	check := &cobra.Command{
		Use:   "check <provider>",
		Short: "Report whether a token is stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, closeDB, err := openResolver(cmd)
			if err != nil {
				return err
			}
			defer closeDB()
			token, err := resolver.Token(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if token == "" {
				return fmt.Errorf("no token stored for %s", args[0])
			}
			fmt.Printf("%s: token present (%d chars)\n", args[0], len(token))
			return nil
		},
	}

	tok.AddCommand(set, check)
	return tok
}

func openResolver(cmd *cobra.Command) (*credentials.Resolver, func(), error) {
	dsn := viper.GetString("database-url")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, nil, fmt.Errorf("database url is not configured")
	}
	pool, err := infra.NewDBPool(cmd.Context(), &infra.Config{DatabaseURL: dsn})
	if err != nil {
		return nil, nil, err
	}
	logger := infra.NewLogger("production", "warn")
	return credentials.NewResolver(infra.NewSQLRunner(pool, logger)), pool.Close, nil
}
