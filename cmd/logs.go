// File: cmd/logs.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hpcloud/tail"
	json "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
)

type logsOptions struct {
	file   string
	follow bool
	level  string
	runID  string
}

func newLogsCmd() *cobra.Command {
	var opts logsOptions

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Print or follow the JSON run log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if opts.file == "" {
				cfg, err := getConfigFromContext(ctx)
				if err != nil {
					return err
				}
				opts.file = cfg.Logger().LogFile
			}
			return runLogs(ctx, opts, cmd.OutOrStdout())
		},
	}

	logsCmd.Flags().StringVar(&opts.file, "file", "", "log file to read (default is logger.log_file)")
	logsCmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "keep printing new lines as they are written")
	logsCmd.Flags().StringVar(&opts.level, "level", "", "only print entries at or above this level")
	logsCmd.Flags().StringVar(&opts.runID, "run-id", "", "only print entries of this run")
	return logsCmd
}

// logEntry holds the fields used for filtering.
type logEntry struct {
	Level string `json:"level"`
	RunID string `json:"run_id"`
}

// logFilter decides whether a raw log line is printed.
type logFilter struct {
	minLevel *zapcore.Level
	runID    string
}

func newLogFilter(level, runID string) (logFilter, error) {
	f := logFilter{runID: runID}
	if level != "" {
		var l zapcore.Level
		if err := l.UnmarshalText([]byte(level)); err != nil {
			return f, fmt.Errorf("invalid --level %q: %w", level, err)
		}
		f.minLevel = &l
	}
	return f, nil
}

// keep reports whether line passes. Lines that are not JSON pass only when
// no filter is set.
func (f logFilter) keep(line string) bool {
	if f.minLevel == nil && f.runID == "" {
		return true
	}
	var e logEntry
	if err := json.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(line, &e); err != nil {
		return false
	}
	if f.runID != "" && e.RunID != f.runID {
		return false
	}
	if f.minLevel != nil {
		var l zapcore.Level
		if err := l.UnmarshalText([]byte(e.Level)); err != nil || l < *f.minLevel {
			return false
		}
	}
	return true
}

// runLogs copies matching lines from the log file to out until the file ends
// or, when following, until ctx is done.
func runLogs(ctx context.Context, opts logsOptions, out io.Writer) error {
	if opts.file == "" {
		return errors.New("file logging is disabled: set logger.log_file or pass --file")
	}
	path, err := homedir.Expand(opts.file)
	if err != nil {
		return fmt.Errorf("failed to expand log path: %w", err)
	}
	filter, err := newLogFilter(opts.level, opts.runID)
	if err != nil {
		return err
	}

	t, err := tail.TailFile(path, tail.Config{
		Follow:    opts.follow,
		ReOpen:    opts.follow,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() {
		_ = t.Stop()
		t.Cleanup()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				return fmt.Errorf("failed reading log file: %w", line.Err)
			}
			if filter.keep(line.Text) {
				if _, err := fmt.Fprintln(out, line.Text); err != nil {
					return err
				}
			}
		}
	}
}
