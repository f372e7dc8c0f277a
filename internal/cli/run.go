package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/0x6d61/webtrufflehog/internal/bridge"
	"github.com/0x6d61/webtrufflehog/internal/channel"
	"github.com/0x6d61/webtrufflehog/internal/config"
	"github.com/0x6d61/webtrufflehog/internal/events"
	"github.com/0x6d61/webtrufflehog/internal/store"
)

// eventBuffer is the capacity of the channel between the event source and
// the bridge.
const eventBuffer = 256

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch fetch events and scan eligible resources for secrets",
	Long: `Run launches the event source (a Chromium browser, or an NDJSON stream of
fetch-completed events), connects to the scanning host on demand and stores
the findings it reports. Press CTRL+C to stop.`,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("source", "", "Event source (browser, ndjson); overrides source.kind")
	runCmd.Flags().String("events", "", "NDJSON event file, - for stdin; overrides source.file")
	runCmd.Flags().StringArray("open", nil, "URL to open in the browser (repeatable)")
}

func runBridge(cmd *cobra.Command, args []string) error {
	// ------------------------------------------------------------------ //
	// 1. Apply command-line overrides
	// ------------------------------------------------------------------ //
	c := *cfg
	if kind, _ := cmd.Flags().GetString("source"); kind != "" {
		c.Source.Kind = kind
	}
	if file, _ := cmd.Flags().GetString("events"); file != "" {
		c.Source.Kind = config.SourceNDJSON
		c.Source.File = file
	}
	if urls, _ := cmd.Flags().GetStringArray("open"); len(urls) > 0 {
		c.Browser.StartURLs = append(c.Browser.StartURLs, urls...)
	}
	if err := c.Validate(); err != nil {
		return err
	}

	// ------------------------------------------------------------------ //
	// 2. Context (CTRL+C or SIGTERM stops the bridge gracefully)
	// ------------------------------------------------------------------ //
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// ------------------------------------------------------------------ //
	// 3. Store
	// ------------------------------------------------------------------ //
	st, err := store.NewSQLiteStore(c.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store %q: %w", c.Store.Path, err)
	}
	defer st.Close()

	// ------------------------------------------------------------------ //
	// 4. Host dialer and event source
	// ------------------------------------------------------------------ //
	dialer, err := newHostDialer(&c, configPath, logger)
	if err != nil {
		return err
	}

	src, closeSrc, err := newSource(&c, cmd.InOrStdin(), logger)
	if err != nil {
		return err
	}
	defer closeSrc()

	// ------------------------------------------------------------------ //
	// 5. Run
	// ------------------------------------------------------------------ //
	logger.Info().
		Str("source", c.Source.Kind).
		Str("store", c.Store.Path).
		Str("host", dialer.Command).
		Msg("Starting webtrufflehog")

	b := bridge.New(dialer, st,
		bridge.WithHeartbeatInterval(c.Bridge.HeartbeatInterval),
		bridge.WithLogger(logger),
	)
	return runPipeline(ctx, src, b, logger)
}

// runPipeline feeds src into b until either side finishes. A source error is
// returned once the bridge has flushed.
func runPipeline(ctx context.Context, src events.Source, b *bridge.Bridge, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	evs := make(chan bridge.FetchEvent, eventBuffer)
	srcErr := make(chan error, 1)
	go func() {
		defer close(evs)
		srcErr <- src.Run(ctx, evs)
	}()

	if err := b.Run(ctx, evs); err != nil {
		return err
	}
	cancel()

	err := <-srcErr
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Event source failed")
		return err
	}
	return nil
}

// newHostDialer builds the dialer for the scanning host. Without an explicit
// host.command the running binary is started again with the host subcommand.
func newHostDialer(c *config.Config, cfgFile string, logger zerolog.Logger) (*channel.ProcessDialer, error) {
	command, args := c.Host.Command, c.Host.Args
	if command == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate own executable: %w", err)
		}
		command = exe
		args = []string{"host"}
		if cfgFile != "" {
			args = append(args, "--config", cfgFile)
		}
	}

	return &channel.ProcessDialer{
		Command: command,
		Args:    args,
		// The host's stderr is relayed line by line into our log.
		Env: []string{config.EnvPrefix + "_LOG_PRETTY=false"},
		Options: channel.Options{
			MaxRPS:         c.Host.MaxRPS,
			MaxMessageSize: c.Host.MaxMessageBytes,
			Logger:         logger,
		},
	}, nil
}

// newSource picks the event source named by source.kind. The returned close
// function releases an opened event file.
func newSource(c *config.Config, stdin io.Reader, logger zerolog.Logger) (events.Source, func() error, error) {
	noop := func() error { return nil }

	switch c.Source.Kind {
	case config.SourceBrowser:
		return events.NewBrowserSource(events.BrowserOptions{
			Bin:       c.Browser.Bin,
			Headless:  c.Browser.Headless,
			Proxy:     c.Browser.Proxy,
			StartURLs: c.Browser.StartURLs,
		}, logger), noop, nil

	case config.SourceNDJSON:
		if c.Source.File == "" || c.Source.File == "-" {
			return events.NewReaderSource(stdin, logger), noop, nil
		}
		f, err := os.Open(c.Source.File)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open event file %q: %w", c.Source.File, err)
		}
		return events.NewReaderSource(f, logger), f.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown event source %q", c.Source.Kind)
}
