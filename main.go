// Package main provides the entry point for the narrate CLI application.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/narrate/internal/document"
	"github.com/dgnsrekt/narrate/tts"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	mouse      bool
	width      uint
	voice      string
	music      string
	ambience   []string
	preset     string
	volume     float64

	rootCmd = &cobra.Command{
		Use:   "narrate [FILE|-]",
		Short: "Read markdown aloud in the terminal",
		Long: paragraph(
			fmt.Sprintf("\nRead markdown aloud with %s, background music and ambient sound.", keyword("live word highlighting")),
		),
		Example:          paragraph("narrate notes.md\nnarrate --music lofi --ambience rain,fire notes.md\ncat notes.md | narrate -"),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.MaximumNArgs(1),
		ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return []string{"md", "markdown"}, cobra.ShellCompDirectiveFilterFileExt
		},
		RunE: execute,
	}
)

func execute(cmd *cobra.Command, args []string) error {
	doc, err := loadDocument(args)
	if err != nil {
		return err
	}

	cfg, err := tts.LoadConfigFromViper()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("voice") {
		cfg.Narrator.Voice = voice
	}
	if cmd.Flags().Changed("volume") {
		cfg.MasterVolume = volume
	}

	return runReader(doc, cfg, readerOptions{
		music:    music,
		ambience: ambience,
		preset:   preset,
		mouse:    mouse,
		width:    width,
	})
}

// loadDocument reads the markdown argument. Piped input and "-" read stdin;
// such documents have no identity and are shown but not narrated.
func loadDocument(args []string) (*document.Document, error) {
	piped, err := stdinIsPipe()
	if err != nil {
		return nil, err
	}
	switch {
	case len(args) == 0 && piped, len(args) == 1 && args[0] == "-":
		return document.Read(os.Stdin)
	case len(args) == 0:
		return nil, errors.New("missing markdown source")
	}

	path := args[0]
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open file: %w", err)
	}
	if info.IsDir() {
		if path, err = findReadme(path); err != nil {
			return nil, err
		}
	}
	return document.Load(path)
}

var readmeNames = []string{"README.md", "README", "Readme.md", "Readme", "readme.md", "readme"}

func findReadme(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("unable to read directory: %w", err)
	}
	for _, name := range readmeNames {
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(e.Name(), name) {
				return filepath.Join(dir, e.Name()), nil
			}
		}
	}
	return "", errors.New("missing markdown source")
}

func stdinIsPipe() (bool, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false, fmt.Errorf("unable to open file: %w", err)
	}
	if stat.Mode()&os.ModeCharDevice == 0 || stat.Size() > 0 {
		return true, nil
	}
	return false, nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tts.SetDefaults()
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.Flags().StringVar(&voice, "voice", "", "narrator voice id")
	rootCmd.Flags().Float64Var(&volume, "volume", 1, "master volume (0 to 1)")
	rootCmd.Flags().StringVar(&music, "music", "", "start background music with the best matching track")
	rootCmd.Flags().StringSliceVar(&ambience, "ambience", nil, "start ambient sounds, comma separated and fuzzy matched")
	rootCmd.Flags().StringVar(&preset, "preset", "", "start an ambience preset")
	rootCmd.Flags().String("service", "", "synthesis service url")
	rootCmd.Flags().String("transport", "", "synthesis stream transport (http or websocket)")
	rootCmd.Flags().String("metrics-addr", "", "serve metrics and debug state on this address")
	rootCmd.Flags().UintVarP(&width, "width", "w", 0, "word-wrap at width (0 uses the terminal width)")
	rootCmd.Flags().BoolVarP(&mouse, "mouse", "m", false, "enable mouse wheel")
	_ = rootCmd.Flags().MarkHidden("mouse")

	// Config bindings
	_ = viper.BindPFlag("service.url", rootCmd.Flags().Lookup("service"))
	_ = viper.BindPFlag("service.transport", rootCmd.Flags().Lookup("transport"))
	_ = viper.BindPFlag("metrics_addr", rootCmd.Flags().Lookup("metrics-addr"))
	_ = viper.BindPFlag("mouse", rootCmd.Flags().Lookup("mouse"))
	_ = viper.BindPFlag("width", rootCmd.Flags().Lookup("width"))

	rootCmd.AddCommand(configCmd, manCmd, catalogCmd, alignCmd, cacheCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "narrate")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "narrate")}, dirs...)
	}

	if c := os.Getenv("NARRATE_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("narrate")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("narrate")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "narrate.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
