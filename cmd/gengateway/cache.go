package main

import (
	"fmt"

	"github.com/spf13/cobra"

	gen "github.com/ineyio/gengateway"
)

func newCacheCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clean the generation cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := gen.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			c, err := openCache(cmd.Context(), cfg.Cache)
			if err != nil {
				return err
			}
			defer func() { _ = c.close() }()
			if c.admin == nil {
				return fmt.Errorf("cache backend %q does not support stats", cfg.Cache.Backend)
			}

			stats, err := c.admin.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Entries:   %d\nFallbacks: %d\n", stats.Entries, stats.Fallbacks)
			return nil
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := gen.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			c, err := openCache(cmd.Context(), cfg.Cache)
			if err != nil {
				return err
			}
			defer func() { _ = c.close() }()
			if c.admin == nil {
				return fmt.Errorf("cache backend %q does not support clear", cfg.Cache.Backend)
			}

			n, err := c.admin.Clear(cmd.Context(), expiredOnly)
			if err != nil {
				return err
			}
			if expiredOnly {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired cache entries.\n", n)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cache entries.\n", n)
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}
