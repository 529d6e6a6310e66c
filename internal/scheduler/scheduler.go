// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/threadweaver/internal/config"
	"github.com/xkilldash9x/threadweaver/internal/dedup"
	"github.com/xkilldash9x/threadweaver/internal/identity"
	"github.com/xkilldash9x/threadweaver/internal/interaction"
	"github.com/xkilldash9x/threadweaver/internal/script"
	"github.com/xkilldash9x/threadweaver/internal/surface"
)

// Failure reasons recorded on outcomes.
const (
	ReasonEmptyText          = "empty text"
	ReasonMissingAttribute   = "missing required attribute"
	ReasonParentNotSatisfied = "parent not satisfied"
	ReasonParentNotLocated   = "parent not located"
	ReasonNoIdentity         = "no identity with required attribute"
	ReasonSessionStart       = "session start error"
	ReasonTabFailed          = "post could not be opened"
	ReasonItemTimeout        = "item timed out"
	ReasonCancelled          = "run cancelled"
	ReasonDuplicateOrder     = "duplicate order"
)

// cleanupTimeout bounds tab and session teardown after an item.
const cleanupTimeout = 20 * time.Second

// Selector picks an identity from the pool with the required attribute.
type Selector interface {
	Select(ctx context.Context, pool *identity.Pool, required string) (string, []identity.Probe, error)
}

// Session is a live browser bound to one identity.
type Session interface {
	Page() surface.Driver
	Close(ctx context.Context) error
}

// StartFunc starts a session for an identity.
type StartFunc func(ctx context.Context, identity string) (Session, error)

// Executor performs the page work for one item.
type Executor interface {
	Settle(ctx context.Context) bool
	ExpandItems(ctx context.Context, max int) int
	RenderedItems(ctx context.Context) []dedup.Item
	Execute(ctx context.Context, cmd interaction.Command) interaction.Result
}

// ExecutorFactory builds an executor over a session's page.
type ExecutorFactory func(page surface.Page) Executor

// Scheduler processes a script one item at a time.
type Scheduler struct {
	logger      *zap.Logger
	cfg         config.SchedulerConfig
	selector    Selector
	start       StartFunc
	newExecutor ExecutorFactory
	now         func() time.Time
}

// New creates a scheduler.
func New(logger *zap.Logger, cfg config.SchedulerConfig, selector Selector, start StartFunc, newExecutor ExecutorFactory) *Scheduler {
	return &Scheduler{
		logger:      logger.Named("scheduler"),
		cfg:         cfg,
		selector:    selector,
		start:       start,
		newExecutor: newExecutor,
		now:         time.Now,
	}
}

// Run processes items parents first and returns one outcome per item. Item
// failures never stop the run. If ctx ends, the remaining items are recorded
// as cancelled. Identities are removed from pool once they post or find their
// text already present. An order that repeats an earlier item's order is
// recorded as failed without being processed.
func (s *Scheduler) Run(ctx context.Context, items []script.Item, pool *identity.Pool) Ledger {
	ledger := Ledger{
		RunID:     uuid.NewString(),
		PostURL:   s.cfg.PostURL,
		StartedAt: s.now(),
		Entries:   make([]Outcome, 0, len(items)),
	}
	log := s.logger.With(zap.String("run_id", ledger.RunID))
	log.Info("Run started.", zap.Int("items", len(items)), zap.Int("identities", pool.Len()))

	sorted := script.Sorted(items)
	texts := make(map[string]string, len(sorted))
	repeated := make(map[int]bool)
	for i, it := range sorted {
		key := it.Order.String()
		if _, dup := texts[key]; dup {
			repeated[i] = true
			continue
		}
		texts[key] = it.Text
	}
	statuses := make(map[string]Status, len(sorted))

	for i, it := range sorted {
		var out Outcome
		if repeated[i] {
			// The first item with this order owns it; its status drives the replies.
			now := s.now()
			out = Outcome{Order: it.Order.String(), Status: Failed, Reason: ReasonDuplicateOrder, StartedAt: now, FinishedAt: now}
			ledger.Entries = append(ledger.Entries, out)
			log.Warn("Item failed.", zap.String("order", out.Order), zap.String("reason", out.Reason))
			continue
		}
		if ctx.Err() != nil {
			now := s.now()
			out = Outcome{Order: it.Order.String(), Status: Failed, Reason: ReasonCancelled, StartedAt: now, FinishedAt: now}
		} else {
			out = s.process(ctx, log, it, pool, texts, statuses)
			out.FinishedAt = s.now()
		}

		statuses[out.Order] = out.Status
		if out.Status.Satisfied() && out.Identity != "" {
			pool.Remove(out.Identity)
		}
		ledger.Entries = append(ledger.Entries, out)

		fields := []zap.Field{zap.String("order", out.Order), zap.String("status", string(out.Status))}
		if out.Identity != "" {
			fields = append(fields, zap.String("identity", out.Identity))
		}
		if out.Status == Failed {
			log.Warn("Item failed.", append(fields, zap.String("reason", out.Reason))...)
		} else {
			log.Info("Item done.", fields...)
		}
	}

	ledger.FinishedAt = s.now()
	sum := ledger.Summary()
	log.Info("Run finished.",
		zap.Int("posted", sum.Posted), zap.Int("skipped", sum.Skipped), zap.Int("failed", sum.Failed),
		zap.Duration("elapsed", ledger.FinishedAt.Sub(ledger.StartedAt)))
	return ledger
}

// recorder appends audit events to an outcome.
type recorder struct {
	now func() time.Time
	out *Outcome
}

func (r recorder) event(kind, format string, args ...interface{}) {
	r.out.Events = append(r.out.Events, Event{At: r.now(), Kind: kind, Detail: fmt.Sprintf(format, args...)})
}

// process handles one item. Deferred teardown records its events on the
// named result.
func (s *Scheduler) process(ctx context.Context, log *zap.Logger, it script.Item, pool *identity.Pool, texts map[string]string, statuses map[string]Status) (out Outcome) {
	out = Outcome{Order: it.Order.String(), StartedAt: s.now()}
	rec := recorder{now: s.now, out: &out}
	log = log.With(zap.String("order", out.Order))

	finish := func(status Status, reason string) Outcome {
		out.Status = status
		out.Reason = reason
		return out
	}

	if dedup.Normalize(it.Text) == "" {
		return finish(Failed, ReasonEmptyText)
	}
	if strings.TrimSpace(it.RequiredAttribute) == "" {
		return finish(Failed, ReasonMissingAttribute)
	}

	var parentKey string
	if parent, ok := it.Order.Parent(); ok {
		parentKey = parent.String()
		status, known := statuses[parentKey]
		switch {
		case !known:
			if _, inScript := texts[parentKey]; !inScript {
				rec.event(EventStepFailed, "parent %s is not in the script", parentKey)
			}
			return finish(Failed, ReasonParentNotSatisfied)
		case !status.Satisfied():
			return finish(Failed, ReasonParentNotSatisfied)
		}
	}

	itemCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.cfg.ItemTimeout > 0 {
		var cancelTimeout context.CancelFunc
		itemCtx, cancelTimeout = context.WithTimeout(itemCtx, s.cfg.ItemTimeout)
		defer cancelTimeout()
	}

	// stepFailed records the failing step and its detail as an event and
	// reports a fixed reason: the step's own, or the timeout or cancellation
	// that interrupted it.
	stepFailed := func(reason, detail string) Outcome {
		rec.event(EventStepFailed, "%s", describe(reason, detail))
		switch {
		case ctx.Err() != nil:
			return finish(Failed, ReasonCancelled)
		case errors.Is(itemCtx.Err(), context.DeadlineExceeded):
			return finish(Failed, ReasonItemTimeout)
		}
		return finish(Failed, reason)
	}

	id, probes, err := s.selector.Select(itemCtx, pool, it.RequiredAttribute)
	for _, p := range probes {
		switch {
		case p.Err != nil:
			rec.event(EventProbe, "%s: %v", p.Identity, p.Err)
		case p.Matched:
			rec.event(EventProbe, "%s: %s matches", p.Identity, p.Attribute)
		default:
			rec.event(EventProbe, "%s: %s", p.Identity, p.Attribute)
		}
	}
	if err != nil {
		if errors.Is(err, identity.ErrNoMatchingIdentity) {
			return finish(Failed, ReasonNoIdentity)
		}
		return stepFailed(ReasonNoIdentity, err.Error())
	}
	out.Identity = id
	rec.event(EventSelected, "%s", id)

	sess, err := s.start(itemCtx, id)
	if err != nil {
		log.Warn("Session failed to start.", zap.String("identity", id), zap.Error(err))
		rec.event(EventStepFailed, "%v", err)
		if ctx.Err() != nil {
			return finish(Failed, ReasonCancelled)
		}
		return finish(Failed, ReasonSessionStart)
	}
	rec.event(EventSessionStarted, "%s", id)
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer closeCancel()
		if err := sess.Close(closeCtx); err != nil {
			log.Warn("Session did not close cleanly.", zap.Error(err))
			rec.event(EventSessionClosed, "error: %v", err)
			return
		}
		rec.event(EventSessionClosed, "")
	}()

	exec := s.newExecutor(sess.Page())
	if res := exec.Execute(itemCtx, interaction.OpenTab{URL: s.cfg.PostURL}); !res.Succeeded {
		return stepFailed(ReasonTabFailed, describe(res.Reason, res.Detail))
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer closeCancel()
		if res := exec.Execute(closeCtx, interaction.CloseTab{}); !res.Succeeded {
			log.Debug("Tab did not close.", zap.String("reason", res.Reason))
		}
	}()

	if !exec.Settle(itemCtx) {
		rec.event(EventConvergence, "post did not settle; reading anyway")
	}

	if kind := strings.TrimSpace(s.cfg.PostReaction); kind != "" && !strings.EqualFold(kind, "none") {
		res := exec.Execute(itemCtx, interaction.Like{Kind: kind})
		detail := "ok"
		if !res.Succeeded {
			detail = describe(res.Reason, res.Detail)
		}
		if res.Reaction != nil {
			detail = fmt.Sprintf("%s %s -> %s [%s]", detail, res.Reaction.Before, res.Reaction.After, strings.Join(res.Reaction.Steps, ","))
			if res.Reaction.Downgraded {
				detail += fmt.Sprintf(" (%q downgraded to %s)", kind, res.Reaction.Applied)
			}
		}
		rec.event(EventPostReaction, "%s", detail)
	}

	if s.cfg.ExpandClicks > 0 {
		if n := exec.ExpandItems(itemCtx, s.cfg.ExpandClicks); n > 0 {
			rec.event(EventExpanded, "%d", n)
		}
	}

	rendered := exec.RenderedItems(itemCtx)
	s.reactToComments(itemCtx, exec, rendered, rec)

	if dedup.IsDuplicate(rendered, it.Text) {
		rec.event(EventDuplicate, "%d items scanned", len(rendered))
		return finish(SkippedDuplicate, "")
	}

	var cmd interaction.Command = interaction.Comment{Text: it.Text}
	if parentKey != "" {
		parent, mode, found := dedup.LocateParent(rendered, texts[parentKey])
		if !found {
			if itemCtx.Err() != nil {
				return stepFailed(ReasonParentNotLocated, "")
			}
			if statuses[parentKey] == SkippedDuplicate {
				return finish(Failed, ReasonParentNotSatisfied)
			}
			return finish(Failed, ReasonParentNotLocated)
		}
		rec.event(EventParentLocated, "%s match", mode)
		cmd = interaction.Reply{Parent: parent.Element, Text: it.Text}
	}

	res := exec.Execute(itemCtx, cmd)
	if !res.Succeeded {
		return stepFailed(res.Reason, res.Detail)
	}
	rec.event(EventSubmission, "%s confirmed", res.Command)
	return finish(Posted, "")
}

// reactToComments drives the configured comment reaction on every rendered
// comment containing one of the target snippets. Results are recorded as
// events and never fail the item.
func (s *Scheduler) reactToComments(ctx context.Context, exec Executor, rendered []dedup.Item, rec recorder) {
	kind := strings.TrimSpace(s.cfg.CommentReaction)
	if len(s.cfg.CommentTargets) == 0 || kind == "" || strings.EqualFold(kind, "none") {
		return
	}
	for _, snippet := range s.cfg.CommentTargets {
		if ctx.Err() != nil {
			return
		}
		target, found := dedup.Locate(rendered, snippet, dedup.Contains)
		if !found {
			rec.event(EventCommentReaction, "%q: not found", snippet)
			continue
		}
		res := exec.Execute(ctx, interaction.Like{Target: target.Element, Kind: kind})
		switch {
		case !res.Succeeded:
			rec.event(EventCommentReaction, "%q: %s", snippet, describe(res.Reason, res.Detail))
		case res.Reaction != nil:
			rec.event(EventCommentReaction, "%q: %s -> %s", snippet, res.Reaction.Before, res.Reaction.After)
		default:
			rec.event(EventCommentReaction, "%q: ok", snippet)
		}
	}
}

func describe(reason, detail string) string {
	if detail == "" {
		return reason
	}
	return reason + ": " + detail
}
