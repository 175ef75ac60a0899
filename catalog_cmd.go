package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/narrate/tts"
)

var catalogCmd = &cobra.Command{
	Use:     "catalog",
	Aliases: []string{"voices"},
	Short:   "List voices, music tracks, ambient sounds and presets",
	Example: paragraph("narrate catalog\nnarrate catalog --catalog path/to/catalog.yaml"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := tts.DefaultConfig()
		cfg.Catalog = viper.GetString("catalog")
		catalog, err := loadCatalog(cfg)
		if err != nil {
			return err
		}
		return printCatalog(cmd.OutOrStdout(), catalog)
	},
}

func printCatalog(w io.Writer, c *tts.Catalog) error {
	var b strings.Builder

	section := func(title string, rows [][2]string) {
		fmt.Fprintf(&b, "\n%s\n", heading(title))
		if len(rows) == 0 {
			fmt.Fprintf(&b, "  %s\n", faint("none"))
			return
		}
		width := 0
		for _, r := range rows {
			width = max(width, len(r[0]))
		}
		for _, r := range rows {
			fmt.Fprintf(&b, "  %s  %s\n", keyword(fmt.Sprintf("%-*s", width, r[0])), r[1])
		}
	}

	var rows [][2]string
	for _, v := range c.Voices {
		rows = append(rows, [2]string{v.ID, v.Name})
	}
	section("Voices", rows)

	rows = nil
	for _, t := range c.Tracks {
		rows = append(rows, [2]string{t.ID, t.Name})
	}
	section("Music", rows)

	rows = nil
	for _, s := range c.Sounds {
		rows = append(rows, [2]string{s.ID, fmt.Sprintf("%s %s", s.Name, faint(fmt.Sprintf("(%.0f%%)", s.DefaultVolume*100)))})
	}
	section("Ambience", rows)

	rows = nil
	for _, p := range c.Presets {
		ids := make([]string, 0, len(p.Sounds))
		for id := range p.Sounds {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		rows = append(rows, [2]string{p.ID, fmt.Sprintf("%s %s", p.Name, faint(strings.Join(ids, ", ")))})
	}
	section("Presets", rows)

	_, err := io.WriteString(w, b.String()+"\n")
	return err //nolint:wrapcheck
}

func init() {
	catalogCmd.Flags().String("catalog", "", "catalog file")
	_ = viper.BindPFlag("catalog", catalogCmd.Flags().Lookup("catalog"))
}
