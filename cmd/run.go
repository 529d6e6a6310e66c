// File: cmd/run.go
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/threadweaver/internal/activation"
	"github.com/xkilldash9x/threadweaver/internal/adapter"
	"github.com/xkilldash9x/threadweaver/internal/browser/driver"
	"github.com/xkilldash9x/threadweaver/internal/config"
	"github.com/xkilldash9x/threadweaver/internal/convergence"
	"github.com/xkilldash9x/threadweaver/internal/identity"
	"github.com/xkilldash9x/threadweaver/internal/interaction"
	"github.com/xkilldash9x/threadweaver/internal/observability"
	"github.com/xkilldash9x/threadweaver/internal/provisioner"
	"github.com/xkilldash9x/threadweaver/internal/reaction"
	"github.com/xkilldash9x/threadweaver/internal/scheduler"
	"github.com/xkilldash9x/threadweaver/internal/script"
	"github.com/xkilldash9x/threadweaver/internal/session"
	"github.com/xkilldash9x/threadweaver/internal/surface"
)

// ErrRunFailures is returned when a run completes with failed items.
var ErrRunFailures = errors.New("run finished with failed items")

// ledgerRunner is satisfied by *scheduler.Scheduler.
type ledgerRunner interface {
	Run(ctx context.Context, items []script.Item, pool *identity.Pool) scheduler.Ledger
}

// schedulerFactory wires a runner from configuration.
type schedulerFactory func(logger *zap.Logger, cfg *config.Config) (ledgerRunner, error)

type runOptions struct {
	scriptPath     string
	identities     []string
	identitiesFile string
	postURL        string
	reaction       string
	likeComments   []string
	commentKind    string
	outputPath     string
	persist        bool
}

func newRunCmd(factory schedulerFactory, provider storeProvider) *cobra.Command {
	var opts runOptions

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Post a comment script to a post using the identity pool",
		Long: `Processes every script item in order, parents before replies. Each item gets
the first identity whose attribute matches, its own browser session and a fresh
tab on the post. Text already on the post is skipped rather than posted twice.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("post-url") {
				cfg.SetSchedulerPostURL(opts.postURL)
			}
			if cmd.Flags().Changed("reaction") {
				cfg.SetSchedulerPostReaction(opts.reaction)
			}
			if cmd.Flags().Changed("like-comments") || cmd.Flags().Changed("comment-reaction") {
				kind, targets := cfg.Scheduler().CommentReaction, cfg.Scheduler().CommentTargets
				if cmd.Flags().Changed("comment-reaction") {
					kind = opts.commentKind
				}
				if cmd.Flags().Changed("like-comments") {
					targets = opts.likeComments
				}
				cfg.SetSchedulerCommentReactions(kind, targets)
			}
			return runRun(ctx, observability.GetLogger(), cfg, opts, factory, provider, cmd.OutOrStdout())
		},
	}

	f := runCmd.Flags()
	f.StringVarP(&opts.scriptPath, "script", "s", "", "JSON script of comments and replies (required)")
	_ = runCmd.MarkFlagRequired("script")
	f.StringSliceVarP(&opts.identities, "identities", "i", nil, "identity ids, in probing order")
	f.StringVar(&opts.identitiesFile, "identities-file", "", "file with one identity id per line, appended after --identities")
	f.StringVar(&opts.postURL, "post-url", "", "URL of the post (overrides scheduler.post_url)")
	f.StringVar(&opts.reaction, "reaction", "", "reaction each identity leaves on the post, or none (overrides scheduler.post_reaction)")
	f.StringArrayVar(&opts.likeComments, "like-comments", nil, "text of a comment every identity reacts to; repeatable (overrides scheduler.comment_targets)")
	f.StringVar(&opts.commentKind, "comment-reaction", "", "reaction left on --like-comments targets (overrides scheduler.comment_reaction)")
	f.StringVarP(&opts.outputPath, "output", "o", "", "write the ledger as JSON to this file")
	f.BoolVar(&opts.persist, "persist", false, "save the ledger to the configured database")
	return runCmd
}

// runRun loads the inputs, runs the scheduler and reports the ledger.
func runRun(ctx context.Context, logger *zap.Logger, cfg *config.Config, opts runOptions, factory schedulerFactory, provider storeProvider, stdout io.Writer) error {
	if strings.TrimSpace(cfg.Scheduler().PostURL) == "" {
		return errors.New("no post URL: set --post-url or scheduler.post_url")
	}
	selectors := cfg.Selectors()
	if err := selectors.ValidateSelectors(); err != nil {
		return err
	}
	if len(cfg.Scheduler().CommentTargets) > 0 && strings.TrimSpace(selectors.ItemReaction) == "" {
		return errors.New("comment targets are set but selectors.item_reaction is missing")
	}

	items, err := script.LoadFile(opts.scriptPath)
	if err != nil {
		return err
	}
	ids, err := collectIdentities(opts)
	if err != nil {
		return err
	}
	pool := identity.NewPool(ids)
	if pool.Len() == 0 {
		return errors.New("no identities: use --identities or --identities-file")
	}

	runner, err := factory(logger, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize run components: %w", err)
	}

	logger.Info("Starting run.",
		zap.String("post_url", cfg.Scheduler().PostURL),
		zap.Int("items", len(items)), zap.Int("identities", pool.Len()))
	ledger := runner.Run(ctx, items, pool)

	var errs []error
	if opts.outputPath != "" {
		if err := writeLedgerFile(opts.outputPath, ledger); err != nil {
			errs = append(errs, err)
		} else {
			logger.Info("Ledger written.", zap.String("path", opts.outputPath))
		}
	}
	if opts.persist {
		// The run is over; persisting should not be cut short by an interrupt.
		if err := persistLedger(context.WithoutCancel(ctx), cfg, provider, ledger); err != nil {
			errs = append(errs, err)
		}
	}

	if err := renderText(stdout, ledger); err != nil {
		errs = append(errs, err)
	}
	fmt.Fprintf(stdout, "\nRun ID: %s\n", ledger.RunID)
	if !opts.persist && cfg.Database().URL != "" {
		fmt.Fprintln(stdout, "Rerun with --persist to keep this ledger for 'threadweaver report'.")
	}

	switch {
	case len(errs) > 0:
		return errors.Join(errs...)
	case ctx.Err() != nil:
		return fmt.Errorf("run interrupted: %w", ctx.Err())
	case ledger.HasFailures():
		return fmt.Errorf("%w: %d of %d", ErrRunFailures, ledger.Summary().Failed, len(ledger.Entries))
	}
	return nil
}

// collectIdentities merges the flag list with the identities file.
func collectIdentities(opts runOptions) ([]string, error) {
	ids := append([]string(nil), opts.identities...)
	if opts.identitiesFile == "" {
		return ids, nil
	}

	path, err := homedir.Expand(opts.identitiesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to expand identities file path: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open identities file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read identities file: %w", err)
	}
	return ids, nil
}

func writeLedgerFile(outputPath string, l scheduler.Ledger) error {
	path, err := homedir.Expand(outputPath)
	if err != nil {
		return fmt.Errorf("failed to expand output path: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create ledger file: %w", err)
	}
	if err := renderJSON(f, l); err != nil {
		f.Close()
		return fmt.Errorf("failed to write ledger file: %w", err)
	}
	return f.Close()
}

func persistLedger(ctx context.Context, cfg config.Interface, provider storeProvider, l scheduler.Ledger) error {
	s, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}
	return s.SaveLedger(ctx, l)
}

// newScheduler wires the production components.
func newScheduler(logger *zap.Logger, cfg *config.Config) (ledgerRunner, error) {
	prov := provisioner.NewClient(logger, cfg.Provisioner())

	resolver, err := identity.NewResolver(logger, prov, cfg.Resolver(), cfg.Provisioner().RequestsPerSecond)
	if err != nil {
		return nil, err
	}

	manager := session.NewManager(logger, prov, driver.Attacher(logger, cfg.Browser()))
	start := func(ctx context.Context, id string) (scheduler.Session, error) {
		s, err := manager.Start(ctx, id)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	return scheduler.New(logger, cfg.Scheduler(), resolver, start, newExecutorFactory(logger, cfg)), nil
}

// newExecutorFactory builds the per-page stack: settle, activation, site
// adapter, reaction machine and executor.
func newExecutorFactory(logger *zap.Logger, cfg *config.Config) scheduler.ExecutorFactory {
	detector := convergence.NewDetector(logger, cfg.Convergence())
	return func(page surface.Page) scheduler.Executor {
		settle := func(ctx context.Context) bool { return detector.Settle(ctx, page) }
		act := activation.New(logger, page, settle)
		controls := adapter.New(logger, act, cfg.Selectors(), cfg.Browser().ActionTimeout)
		reactions := reaction.NewMachine(logger, controls, settle)
		return interaction.NewExecutor(logger, act, controls, reactions, settle, cfg.Scheduler().ConfirmTimeout)
	}
}
