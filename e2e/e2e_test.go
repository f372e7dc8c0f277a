//go:build e2e

// Package e2e contains end-to-end tests that run the real host process,
// the trufflehog CLI and the leakyapp origin from testenv/leakyapp.
//
// Run with:
//
//	(cd testenv/leakyapp && go run .) &
//	go test -v -tags e2e -count=1 -timeout 180s ./e2e/...
package e2e_test

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x6d61/webtrufflehog/internal/bridge"
	"github.com/0x6d61/webtrufflehog/internal/channel"
	"github.com/0x6d61/webtrufflehog/internal/protocol"
	"github.com/0x6d61/webtrufflehog/internal/store"
)

const defaultE2EURL = "http://localhost:18080"

// binPath is the webtrufflehog binary under test.
var binPath string

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	if bin := os.Getenv("WTH_E2E_BIN"); bin != "" {
		binPath = bin
		return m.Run()
	}

	dir, err := os.MkdirTemp("", "wth-e2e")
	if err != nil {
		fmt.Fprintf(os.Stderr, "temp dir: %v\n", err)
		return 1
	}
	defer os.RemoveAll(dir)

	binPath = filepath.Join(dir, "webtrufflehog")
	build := exec.Command("go", "build", "-o", binPath, "../cmd/webtrufflehog")
	build.Stdout, build.Stderr = os.Stderr, os.Stderr
	if err := build.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "build webtrufflehog: %v\n", err)
		return 1
	}
	return m.Run()
}

// e2eBaseURL returns the base URL of the test origin.
// If the origin is unreachable, the test is skipped automatically.
func e2eBaseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("WTH_E2E_URL")
	if url == "" {
		url = defaultE2EURL
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/health", nil)
	if err != nil {
		t.Skipf("cannot build health-check request for %s: %v", url, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Skipf("E2E origin not available at %s (start testenv/leakyapp): %v", url, err)
	}
	resp.Body.Close()
	return url
}

func requireTrufflehog(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("trufflehog"); err != nil {
		t.Skip("trufflehog not found in PATH")
	}
}

// startBridge runs a bridge against a freshly launched host process.
func startBridge(t *testing.T) (store.Store, chan<- bridge.FetchEvent, func()) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.NewSQLiteStore(filepath.Join(dir, "findings.db"))
	require.NoError(t, err)

	dialer := &channel.ProcessDialer{
		Command: binPath,
		Args:    []string{"host"},
		Env: []string{
			"WTH_LOG_PRETTY=false",
			"WTH_SCANNER_RESULTS_FILE=" + filepath.Join(dir, "results.json"),
			"WTH_SCANNER_TEMP_DIR=" + dir,
		},
		Options: channel.Options{Logger: zerolog.Nop()},
	}

	b := bridge.New(dialer, st, bridge.WithHeartbeatInterval(200*time.Millisecond))
	events := make(chan bridge.FetchEvent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(context.Background(), events)
	}()

	stop := func() {
		close(events)
		<-done
		st.Close()
	}
	return st, events, stop
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestE2E_HeartbeatRecordsQueueSize(t *testing.T) {
	st, events, stop := startBridge(t)
	defer stop()

	// The first event opens the connection; it is textual so nothing is scanned.
	events <- bridge.FetchEvent{
		RequestID: "e2e-0",
		URL:       "http://localhost/ignored.js",
		Type:      "script",
		Headers:   []bridge.Header{{Name: "Content-Type", Value: "text/javascript"}},
	}

	ok := waitFor(t, 10*time.Second, func() bool {
		var size int
		found, err := st.Get(context.Background(), store.QueueSizeKey, &size)
		return err == nil && found
	})
	assert.True(t, ok, "queue size was never recorded")
}

func TestE2E_FindsLeakedToken(t *testing.T) {
	requireTrufflehog(t)
	base := e2eBaseURL(t)

	st, events, stop := startBridge(t)
	defer stop()

	events <- bridge.FetchEvent{
		RequestID: "e2e-banner",
		URL:       base + "/assets/banner.svg",
		Type:      "image",
		Headers:   []bridge.Header{{Name: "Content-Type", Value: "image/svg+xml"}},
	}
	events <- bridge.FetchEvent{
		RequestID: "e2e-script",
		URL:       base + "/static/app.js",
		Type:      "script",
		Headers:   []bridge.Header{{Name: "Content-Type", Value: "text/javascript"}},
	}

	var findings []protocol.Finding
	ok := waitFor(t, 60*time.Second, func() bool {
		found, err := st.Get(context.Background(), store.FindingsKey("e2e-banner"), &findings)
		return err == nil && found
	})
	require.True(t, ok, "no findings stored for the banner")
	require.NotEmpty(t, findings)
	for _, f := range findings {
		assert.Equal(t, base+"/assets/banner.svg", f.URL())
		assert.NotZero(t, f.Timestamp())
	}

	var ignored []protocol.Finding
	found, err := st.Get(context.Background(), store.FindingsKey("e2e-script"), &ignored)
	require.NoError(t, err)
	assert.False(t, found, "textual resources must not be scanned")
}
