// File: cmd/helpers_test.go
package cmd

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/threadweaver/internal/config"
	"github.com/xkilldash9x/threadweaver/internal/identity"
	"github.com/xkilldash9x/threadweaver/internal/scheduler"
	"github.com/xkilldash9x/threadweaver/internal/script"
)

// testConfig returns defaults with a post URL and the required selectors.
func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.SetSchedulerPostURL("https://social.example/posts/42")
	cfg.SelectorsCfg.CommentItem = ".comment"
	cfg.SelectorsCfg.CommentText = ".comment-text"
	cfg.SelectorsCfg.CommentBox = "#new-comment"
	cfg.SelectorsCfg.ReplyButton = ".reply"
	cfg.SelectorsCfg.ReplyBox = ".reply-box"
	return cfg
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func sampleLedger() scheduler.Ledger {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return scheduler.Ledger{
		RunID:      "run-1",
		PostURL:    "https://social.example/posts/42",
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Minute),
		Entries: []scheduler.Outcome{
			{Order: "1", Status: scheduler.Posted, Identity: "id-a", StartedAt: start, FinishedAt: start.Add(time.Minute)},
			{Order: "1.1", Status: scheduler.Failed, Reason: scheduler.ReasonNoIdentity, StartedAt: start.Add(time.Minute), FinishedAt: start.Add(2 * time.Minute)},
			{Order: "2", Status: scheduler.SkippedDuplicate, Identity: "id-b", StartedAt: start.Add(time.Minute), FinishedAt: start.Add(2 * time.Minute)},
		},
	}
}

// fakeRunner records what the command handed it.
type fakeRunner struct {
	ledger     scheduler.Ledger
	items      []script.Item
	identities []string
}

func (f *fakeRunner) Run(ctx context.Context, items []script.Item, pool *identity.Pool) scheduler.Ledger {
	f.items = items
	f.identities = pool.Identities()
	return f.ledger
}

func runnerFactory(r *fakeRunner) schedulerFactory {
	return func(*zap.Logger, *config.Config) (ledgerRunner, error) { return r, nil }
}

type fakeStore struct {
	mu        sync.Mutex
	saved     []scheduler.Ledger
	ensured   int
	ledgers   map[string]scheduler.Ledger
	ensureErr error
	saveErr   error
	loadErr   error
}

func (s *fakeStore) EnsureSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensured++
	return s.ensureErr
}

func (s *fakeStore) SaveLedger(ctx context.Context, l scheduler.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, l)
	return nil
}

func (s *fakeStore) LoadLedger(ctx context.Context, runID string) (scheduler.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return scheduler.Ledger{}, s.loadErr
	}
	return s.ledgers[runID], nil
}

type fakeProvider struct {
	store   *fakeStore
	err     error
	cleaned int
}

func (p *fakeProvider) Create(ctx context.Context, cfg config.Interface) (ledgerStore, func(), error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	return p.store, func() { p.cleaned++ }, nil
}
