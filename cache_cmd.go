package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/narrate/tts"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the audio cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := tts.LoadConfigFromViper()
		if err != nil {
			return err
		}
		m, err := openCache(cfg)
		if err != nil {
			return err
		}
		defer m.Close() //nolint:errcheck

		st := m.Stats()
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", heading("Audio cache"), faint(cfg.CacheDir()))
		fmt.Fprintf(cmd.OutOrStdout(), "  disk    %s of %s, %s entries\n",
			keyword(humanize.IBytes(uint64(st.Disk.Size))), //nolint:gosec
			humanize.IBytes(uint64(st.Disk.Capacity)),      //nolint:gosec
			humanize.Comma(st.Disk.ItemCount))
		return nil
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove expired cache entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := tts.LoadConfigFromViper()
		if err != nil {
			return err
		}
		m, err := openCache(cfg)
		if err != nil {
			return err
		}
		defer m.Close() //nolint:errcheck

		n := m.Prune()
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s %s\n", keyword(humanize.Comma(int64(n))), pluralize("entry", "entries", n))
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the audio cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := tts.LoadConfigFromViper()
		if err != nil {
			return err
		}
		dir := cfg.CacheDir()
		log.Info("clearing cache", "dir", dir)
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("unable to clear cache: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", dir)
		return nil
	},
}

func pluralize(one, many string, n int) string {
	if n == 1 {
		return one
	}
	return many
}

func init() {
	cacheCmd.AddCommand(cachePruneCmd, cacheClearCmd)
}
