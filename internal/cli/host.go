package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/0x6d61/webtrufflehog/internal/host"
	"github.com/0x6d61/webtrufflehog/internal/transport"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Run the scanning host on stdin/stdout",
	Long: `Host speaks the length-prefixed JSON message protocol on stdin and stdout.
It downloads each requested resource, scans it with trufflehog and reports
findings back. The run command starts it automatically; it can also be
registered as a browser native messaging host.`,
	// Browsers append the caller's origin as an argument.
	Args: cobra.ArbitraryArgs,
	RunE: runHost,
}

func init() {
	rootCmd.AddCommand(hostCmd)
}

func runHost(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := transport.NewClient(transport.ClientOptions{
		Timeout:            cfg.Scanner.DownloadTimeout,
		ProxyURL:           cfg.Scanner.DownloadProxy,
		InsecureSkipVerify: cfg.Scanner.Insecure,
		RandomUserAgent:    cfg.Scanner.RandomUserAgent,
		MaxRPS:             cfg.Scanner.DownloadMaxRPS,
		MaxBodyBytes:       cfg.Scanner.MaxBodyBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP client: %w", err)
	}

	results, err := host.OpenResultLog(cfg.Scanner.ResultsFile)
	if err != nil {
		return err
	}
	defer results.Close()

	scanner := &host.TrufflehogScanner{
		Binary:  cfg.Scanner.Trufflehog,
		TempDir: cfg.Scanner.TempDir,
		Logger:  logger,
	}

	srv := host.NewServer(client, scanner, results, host.Options{
		Workers:        cfg.Scanner.Workers,
		QueueCapacity:  cfg.Scanner.QueueCapacity,
		MaxMessageSize: cfg.Host.MaxMessageBytes,
		Logger:         logger,
	})
	return srv.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
}
