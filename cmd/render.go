// File: cmd/render.go
package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/threadweaver/internal/scheduler"
)

const (
	formatText = "text"
	formatJSON = "json"
)

type renderer func(w io.Writer, l scheduler.Ledger) error

func rendererFor(format string) (renderer, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case formatText, "":
		return renderText, nil
	case formatJSON:
		return renderJSON, nil
	default:
		return nil, fmt.Errorf("unsupported format %q (want %s or %s)", format, formatText, formatJSON)
	}
}

// renderJSON writes the ledger and its summary as indented JSON.
func renderJSON(w io.Writer, l scheduler.Ledger) error {
	doc := struct {
		scheduler.Ledger
		Summary scheduler.Summary `json:"summary"`
	}{l, l.Summary()}
	out, err := json.ConfigCompatibleWithStandardLibrary.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize ledger: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// renderText writes one row per entry followed by the summary.
func renderText(w io.Writer, l scheduler.Ledger) error {
	fmt.Fprintf(w, "Run %s\n", l.RunID)
	if l.PostURL != "" {
		fmt.Fprintf(w, "Post %s\n", l.PostURL)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tSTATUS\tIDENTITY\tREASON")
	for _, e := range l.Entries {
		identity := e.Identity
		if identity == "" {
			identity = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Order, e.Status, identity, e.Reason)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return renderSummary(w, l.Summary())
}

// renderSummary writes the status counts and the failure reasons.
func renderSummary(w io.Writer, s scheduler.Summary) error {
	_, err := fmt.Fprintf(w, "%d items: %d posted, %d skipped as duplicates, %d failed\n", s.Total, s.Posted, s.Skipped, s.Failed)
	if err != nil {
		return err
	}
	for _, f := range s.Failures {
		if _, err := fmt.Fprintf(w, "  %3d  %s\n", f.Count, f.Reason); err != nil {
			return err
		}
	}
	return nil
}
