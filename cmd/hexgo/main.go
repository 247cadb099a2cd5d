package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/hexgo/hexgo/pkg/theme"
	"github.com/pkg/profile"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v4"
)

type hexgoConfig struct {
	Theme      string `yaml:"theme,omitempty"`
	SiteConfig string `yaml:"site_config,omitempty"`
	Language   string `yaml:"language,omitempty"`
	Output     string `yaml:"output,omitempty"`
	PoolSize   int    `yaml:"pool_size,omitempty"`
}

func (c *hexgoConfig) loadConfig(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(c); err != nil {
		return fmt.Errorf("decoding config file: %w", err)
	}
	return nil
}

var (
	rootConfig  string
	verbose     bool
	profileMode string
	themeDir    string
)

var profileModes = map[string]func(*profile.Profile){
	"cpu":       profile.CPUProfile,
	"mem":       profile.MemProfile,
	"allocs":    profile.MemProfileAllocs,
	"block":     profile.BlockProfile,
	"mutex":     profile.MutexProfile,
	"goroutine": profile.GoroutineProfile,
	"trace":     profile.TraceProfile,
}

var activeProfile interface{ Stop() }

var rootCmd = cobra.Command{
	Use:           "hexgo",
	Short:         "Render and check EJS themes for static sites",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
		}
		if profileMode == "" {
			return nil
		}
		mode, ok := profileModes[profileMode]
		if !ok {
			return fmt.Errorf("unknown profile mode %q (want one of %s)", profileMode,
				strings.Join(slices.Sorted(maps.Keys(profileModes)), ", "))
		}
		activeProfile = profile.Start(mode, profile.ProfilePath("."), profile.NoShutdownHook)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		stopProfile()
	},
}

func stopProfile() {
	if activeProfile != nil {
		activeProfile.Stop()
		activeProfile = nil
	}
}

// loadHexgoConfig reads the CLI configuration. A missing file is only an
// error when --config was given explicitly.
func loadHexgoConfig(cmd *cobra.Command) (hexgoConfig, error) {
	var cfg hexgoConfig
	err := cfg.loadConfig(rootConfig)
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		err = nil
	}
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	if themeDir != "" {
		cfg.Theme = themeDir
	}
	if cfg.Theme == "" {
		return cfg, fmt.Errorf("no theme directory given (use --theme or set theme in %s)", rootConfig)
	}
	return cfg, nil
}

// loadSite loads the site configuration and the theme it names.
func loadSite(cmd *cobra.Command) (hexgoConfig, theme.SiteConfig, *theme.Theme, error) {
	cfg, err := loadHexgoConfig(cmd)
	if err != nil {
		return cfg, theme.SiteConfig{}, nil, err
	}
	site := theme.DefaultSiteConfig()
	if cfg.SiteConfig != "" {
		if site, err = theme.LoadSiteConfig(cfg.SiteConfig); err != nil {
			return cfg, site, nil, err
		}
	}
	lang := cfg.Language
	if lang == "" {
		lang = site.Language
	}
	th, err := theme.Load(cfg.Theme, theme.Options{
		Language: lang,
		Logger:   slog.Default(),
		PoolSize: cfg.PoolSize,
	})
	if err != nil {
		return cfg, site, nil, fmt.Errorf("loading theme: %w", err)
	}
	return cfg, site, th, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfig, "config", "hexgo.config.yaml", "Path to hexgo configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&profileMode, "profile", "", "Write a profile of the run (cpu, mem, allocs, block, mutex, goroutine, trace)")
	rootCmd.PersistentFlags().StringVar(&themeDir, "theme", "", "Theme directory")

	renderCmd.Flags().String("page", "", "Markdown page with YAML front matter")
	renderCmd.Flags().String("type", "post", "Page type: index, post, page, archive, category or tag")
	renderCmd.Flags().String("out", "", "Write the page here instead of stdout")
	rootCmd.AddCommand(&renderCmd)

	rootCmd.AddCommand(&checkCmd)
	rootCmd.AddCommand(&templatesCmd)
}

func main() {
	err := rootCmd.Execute()
	stopProfile()
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
