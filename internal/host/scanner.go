// Package host implements the scanning host: it reads scan requests off the
// message channel, downloads and scans each resource once, and answers with
// findings and queue-depth status.
package host

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/0x6d61/webtrufflehog/internal/protocol"
)

// Scanner finds secrets in content.
type Scanner interface {
	Scan(ctx context.Context, content []byte) ([]protocol.Finding, error)
}

// TrufflehogScanner runs the trufflehog CLI over a temporary file.
type TrufflehogScanner struct {
	// Binary is the trufflehog executable.
	Binary string

	// TempDir holds scan targets; empty uses the system default.
	TempDir string

	Logger zerolog.Logger
}

// Compile-time check that TrufflehogScanner implements Scanner.
var _ Scanner = (*TrufflehogScanner)(nil)

// Scan writes content to a temporary file and runs
// `trufflehog filesystem <file> --json`, returning one finding per JSON
// line of output. A non-zero exit status is not an error as long as the
// process ran.
func (s *TrufflehogScanner) Scan(ctx context.Context, content []byte) ([]protocol.Finding, error) {
	if len(content) == 0 {
		return nil, nil
	}

	f, err := os.CreateTemp(s.TempDir, "webtrufflehog-*.scan")
	if err != nil {
		return nil, fmt.Errorf("host: create scan target: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(content); err != nil {
		f.Close()
		return nil, fmt.Errorf("host: write scan target: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("host: close scan target: %w", err)
	}

	binary := s.Binary
	if binary == "" {
		binary = "trufflehog"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, "filesystem", path, "--json")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("host: run %s: %w", binary, err)
		}
		s.Logger.Debug().
			Int("exit_code", exitErr.ExitCode()).
			Str("stderr", strings.TrimSpace(stderr.String())).
			Msg("Scanner exited with non-zero status")
	}

	return parseFindings(&stdout, s.Logger), nil
}

// parseFindings decodes one JSON object per line, skipping anything else.
func parseFindings(out *bytes.Buffer, logger zerolog.Logger) []protocol.Finding {
	var findings []protocol.Finding
	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var f protocol.Finding
		if err := protocol.UnmarshalNumbers(line, &f); err != nil || f == nil {
			logger.Debug().Str("line", string(line)).Msg("Ignoring non-JSON scanner output")
			continue
		}
		findings = append(findings, f)
	}
	return findings
}
