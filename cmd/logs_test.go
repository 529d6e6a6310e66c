// File: cmd/logs_test.go
package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `{"level":"debug","msg":"Configuration loaded."}
{"level":"info","msg":"Starting run.","run_id":"run-1"}
{"level":"warn","msg":"Item failed.","run_id":"run-1"}
{"level":"error","msg":"Item failed.","run_id":"run-2"}
not json at all
`

// syncBuffer lets the test read while runLogs writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunLogs(t *testing.T) {
	logPath := writeFile(t, "threadweaver.log", sampleLog)

	cases := []struct {
		name  string
		opts  logsOptions
		lines int
	}{
		{"prints every line without filters", logsOptions{}, 5},
		{"filters by minimum level", logsOptions{level: "warn"}, 2},
		{"filters by run", logsOptions{runID: "run-1"}, 2},
		{"combines filters", logsOptions{level: "warn", runID: "run-1"}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.opts.file = logPath
			var out bytes.Buffer
			require.NoError(t, runLogs(context.Background(), tc.opts, &out))
			assert.Len(t, strings.Split(strings.TrimSpace(out.String()), "\n"), tc.lines)
		})
	}

	t.Run("rejects an unknown level", func(t *testing.T) {
		err := runLogs(context.Background(), logsOptions{file: logPath, level: "loud"}, &bytes.Buffer{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid --level")
	})

	t.Run("fails when the file does not exist", func(t *testing.T) {
		err := runLogs(context.Background(), logsOptions{file: filepath.Join(t.TempDir(), "none.log")}, &bytes.Buffer{})
		require.Error(t, err)
	})

	t.Run("fails when file logging is off", func(t *testing.T) {
		err := runLogs(context.Background(), logsOptions{}, &bytes.Buffer{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "file logging is disabled")
	})

	t.Run("following stops when the context ends", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		out := &syncBuffer{}
		done := make(chan error, 1)
		go func() { done <- runLogs(ctx, logsOptions{file: logPath, follow: true, runID: "run-2"}, out) }()

		assert.Eventually(t, func() bool {
			return strings.Contains(out.String(), `"run_id":"run-2"`)
		}, 5*time.Second, 10*time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("runLogs did not return after cancellation")
		}
	})
}
