package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/narrate/tts/align"
)

var alignCmd = &cobra.Command{
	Use:   "align ORIGINAL SPOKEN...",
	Short: "Show how spoken segments map onto original text",
	Long: paragraph(fmt.Sprintf("\n%s each spoken word to the original words it highlights. Pass the original text first, then one argument per spoken segment.",
		keyword("Map"))),
	Example: paragraph(`narrate align "Dr. Smith paid $5." "Doctor Smith paid five dollars."`),
	Hidden:  true,
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := align.Options{
			NearbyThreshold: viper.GetInt("align.nearby_threshold"),
			SeqLength:       viper.GetInt("align.seq_length"),
		}
		return printAlignment(cmd.OutOrStdout(), args[0], args[1:], opts)
	},
}

func printAlignment(w io.Writer, original string, spoken []string, opts align.Options) error {
	orig := align.Words(original)
	segments := make([][]string, len(spoken))
	for i, s := range spoken {
		segments[i] = align.SpokenWords(s)
	}
	m := align.Align(segments, orig, opts)

	var b strings.Builder
	for seg, words := range segments {
		fmt.Fprintf(&b, "%s\n", heading(fmt.Sprintf("segment %d", seg)))
		for i, word := range words {
			idx, _ := m.Combined(seg, i)
			r, ok := m.Resolve(idx)
			target := faint("unmatched")
			if ok {
				target = keyword(strings.Join(orig[r.Start:r.End+1], " "))
			}
			fmt.Fprintf(&b, "  %-16s → %s\n", word, target)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err //nolint:wrapcheck
}
