package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/0x6d61/webtrufflehog/internal/report"
	"github.com/0x6d61/webtrufflehog/internal/store"
)

var findingsCmd = &cobra.Command{
	Use:   "findings",
	Short: "Show the secrets found so far",
	Long: `Findings renders every stored finding, newest first, together with the
last reported scan queue size. With --follow the view is redrawn whenever
the store changes.`,
	RunE: runFindings,
}

func init() {
	rootCmd.AddCommand(findingsCmd)
	findingsCmd.Flags().Bool("follow", false, "Redraw whenever the store changes")
	findingsCmd.Flags().StringP("output", "o", "", "Output file path")
}

func runFindings(cmd *cobra.Command, args []string) error {
	follow, _ := cmd.Flags().GetBool("follow")
	outputPath, _ := cmd.Flags().GetString("output")

	reporter, err := report.New(cfg.Report.Format)
	if err != nil {
		return fmt.Errorf("unknown report format %q: %w", cfg.Report.Format, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store %q: %w", cfg.Store.Path, err)
	}
	defer st.Close()

	out := cmd.OutOrStdout()
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("failed to create output file %q: %w", outputPath, err)
		}
		defer f.Close()
		out = f
	}

	if err := renderFindings(ctx, st, reporter, out); err != nil {
		return err
	}
	if !follow {
		return nil
	}

	return store.Watch(ctx, cfg.Store.Path, store.DefaultWatchDebounce, logger, func() {
		if err := renderFindings(ctx, st, reporter, out); err != nil {
			logger.Warn().Err(err).Msg("Failed to refresh findings")
		}
	})
}

func renderFindings(ctx context.Context, st store.Store, r report.Reporter, w io.Writer) error {
	view, err := report.Collect(ctx, st)
	if err != nil {
		return fmt.Errorf("failed to read findings: %w", err)
	}
	if view.Skipped > 0 {
		logger.Warn().Int("entries", view.Skipped).Msg("Skipped malformed store entries")
	}
	if err := r.Generate(ctx, view, w); err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}
	return nil
}
