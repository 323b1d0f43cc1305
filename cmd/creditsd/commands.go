package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/DimensionCoin/credits"
	"github.com/DimensionCoin/credits/internal/config"
	"github.com/DimensionCoin/credits/user"
)

// withEngine runs fn against a started engine built from configuration
// and stops it afterwards.
func withEngine(cmd *cobra.Command, cfgPath string, fn func(context.Context, *credits.Engine) error) (err error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	eng, err := newEngine(ctx, cfg, newLogger(cfg, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer func() {
		if stopErr := eng.Stop(); err == nil {
			err = stopErr
		}
	}()

	return fn(ctx, eng)
}

func newMigrateCmd(cfgPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath())
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg.Store)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate %s store: %w", cfg.Store.Driver, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s store is up to date\n", cfg.Store.Driver)
			return nil
		},
	}
}

func newPlansCmd(cfgPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List the configured plan catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath())
			if err != nil {
				return err
			}
			catalog, err := cfg.Catalog()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PRICE ID\tNAME\tTIER\tCREDITS\tPRICE")
			for _, p := range catalog.Plans() {
				price := "-"
				if !p.Price.IsZero() {
					price = p.Price.String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", p.PriceID, p.Name, p.Tier, p.Credits, price)
			}
			return tw.Flush()
		},
	}
}

func newUserCmd(cfgPath func() string) *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Inspect user records",
	}
	userCmd.AddCommand(&cobra.Command{
		Use:   "get <external-id>",
		Short: "Print a user record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, cfgPath(), func(ctx context.Context, eng *credits.Engine) error {
				u, err := eng.GetUser(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, u)
			})
		},
	})
	return userCmd
}

func newGrantCmd(cfgPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "grant <external-id> <amount>",
		Short: "Add credits to a user's balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd, cfgPath(), func(ctx context.Context, eng *credits.Engine) error {
				u, err := eng.Grant(ctx, args[0], amount)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "granted %d credits to %s, balance %d\n", amount, u.ExternalID, u.Credits)
				return nil
			})
		},
	}
}

func newConsumeCmd(cfgPath func() string) *cobra.Command {
	var meta user.UsageMeta

	cmd := &cobra.Command{
		Use:   "consume <external-id> <amount>",
		Short: "Debit credits from a user's balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd, cfgPath(), func(ctx context.Context, eng *credits.Engine) error {
				u, err := eng.Consume(ctx, args[0], amount, meta)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "consumed %d credits from %s, balance %d\n", amount, u.ExternalID, u.Credits)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&meta.Category, "category", "operator", "usage category recorded in history")
	cmd.Flags().StringVar(&meta.Detail, "detail", "", "usage detail recorded in history")
	return cmd
}

func parseAmount(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("amount must be a positive integer, got %q", s)
	}
	return n, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
