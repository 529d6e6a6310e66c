// File: cmd/report.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/threadweaver/internal/config"
	"github.com/xkilldash9x/threadweaver/internal/observability"
	"github.com/xkilldash9x/threadweaver/internal/scheduler"
	"github.com/xkilldash9x/threadweaver/internal/store"
)

// ledgerStore is what the commands need from the persistence layer.
type ledgerStore interface {
	EnsureSchema(ctx context.Context) error
	SaveLedger(ctx context.Context, l scheduler.Ledger) error
	LoadLedger(ctx context.Context, runID string) (scheduler.Ledger, error)
}

// storeProvider opens a ledgerStore. Tests inject a fake.
type storeProvider interface {
	// Create returns the store and a cleanup function that releases it.
	Create(ctx context.Context, cfg config.Interface) (ledgerStore, func(), error)
}

type defaultStoreProvider struct{}

// NewStoreProvider returns the PostgreSQL-backed provider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

// Create connects to cfg's database and wraps the pool in a store.
func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface) (ledgerStore, func(), error) {
	logger := observability.GetLogger()
	if cfg.Database().URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (THREADWEAVER_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.Database().URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return s, cleanup, nil
}

// newReportCmd creates the `report` command.
func newReportCmd(provider storeProvider) *cobra.Command {
	var runID, outputPath, format string

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Print the ledger of a stored run",
		Long: `Loads a run ledger saved with 'run --persist' and prints it as a text
table or JSON, to stdout or a file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runReport(ctx, observability.GetLogger(), cfg, runID, outputPath, format, provider, cmd.OutOrStdout())
		},
	}

	reportCmd.Flags().StringVar(&runID, "run-id", "", "ID of the run to report (required)")
	_ = reportCmd.MarkFlagRequired("run-id")
	reportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the report to this file instead of stdout")
	reportCmd.Flags().StringVarP(&format, "format", "f", formatText, "report format: text or json")
	return reportCmd
}

// runReport loads runID and renders it.
func runReport(ctx context.Context, logger *zap.Logger, cfg config.Interface, runID, outputPath, format string, provider storeProvider, stdout io.Writer) error {
	render, err := rendererFor(format)
	if err != nil {
		return err
	}

	s, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	ledger, err := s.LoadLedger(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	if outputPath == "" {
		return render(stdout, ledger)
	}

	path, err := homedir.Expand(outputPath)
	if err != nil {
		return fmt.Errorf("failed to expand output path: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()
	if err := render(f, ledger); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	logger.Info("Report written.", zap.String("path", path), zap.String("run_id", runID))
	return nil
}
