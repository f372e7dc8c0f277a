package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/0x6d61/webtrufflehog/internal/config"
	"github.com/0x6d61/webtrufflehog/internal/logging"
)

// Version information (set by build flags)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	vp         = config.New()
	cfg        *config.Config
	logger     = zerolog.Nop()
	closeLog   = func() error { return nil }
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "webtrufflehog",
	Short: "Scan resources loaded by a browser for leaked secrets",
	Long: `webtrufflehog - Secret scanning for everything your browser loads

The run command watches fetch-completed events from a browser (or an NDJSON
event stream), forwards eligible resources to a scanning host process and
records the host's findings in a local store. The findings command renders
that store.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ./webtrufflehog.yaml or $HOME/.webtrufflehog.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("store", "webtrufflehog.db", "Findings store path (SQLite)")
	rootCmd.PersistentFlags().StringP("format", "f", "text", "Output format (text, json)")

	bindFlag("log.level", "log-level")
	bindFlag("store.path", "store")
	bindFlag("report.format", "format")
}

func bindFlag(key, flag string) {
	if err := vp.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

// setup loads the configuration and installs the logger before any
// subcommand runs.
func setup(cmd *cobra.Command, args []string) error {
	if err := config.ReadFile(vp, configPath); err != nil {
		return err
	}
	c, err := config.Load(vp)
	if err != nil {
		return err
	}

	l, closeFn, err := logging.Setup(logging.Options{
		Level:  c.Log.Level,
		Pretty: c.Log.Pretty,
		File:   c.Log.File,
	})
	if err != nil {
		return err
	}

	cfg = c
	logger = l
	closeLog = closeFn
	if used := vp.ConfigFileUsed(); used != "" {
		logger.Debug().Str("file", used).Msg("Loaded config file")
	}
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	return closeLog()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "webtrufflehog %s (commit: %s, built: %s)\n", version, commit, date)
	},
}
