// File: internal/interaction/executor.go
package interaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/threadweaver/internal/activation"
	"github.com/xkilldash9x/threadweaver/internal/dedup"
	"github.com/xkilldash9x/threadweaver/internal/reaction"
	"github.com/xkilldash9x/threadweaver/internal/surface"
	"go.uber.org/zap"
)

// Controls locates the site controls the executor drives.
type Controls interface {
	ContentItems(ctx context.Context) ([]surface.Element, error)
	ItemText(ctx context.Context, item surface.Element) (string, error)
	ExpandControl(ctx context.Context) (surface.Element, error)
	CommentBox(ctx context.Context) (surface.Element, error)
	ReplyTrigger(ctx context.Context, parent surface.Element) (surface.Element, error)
	ReplyBox(ctx context.Context, parent surface.Element) (surface.Element, error)
	SubmitButton(ctx context.Context) (surface.Element, error)
}

// Failure reasons.
const (
	ReasonTabsUnsupported  = "page cannot open tabs"
	ReasonTabFailed        = "tab operation failed"
	ReasonComposerMissing  = "comment box not found"
	ReasonComposerInactive = "comment box could not be focused"
	ReasonReplyMissing     = "reply control not found"
	ReasonReplyNotOpened   = "reply box did not open"
	ReasonTypingFailed     = "text could not be entered"
	ReasonSubmitFailed     = "submission failed"
	ReasonNotConfirmed     = "submission not confirmed"
	ReasonParentStale      = "parent item went stale"
	ReasonUnknownCommand   = "unknown command"
)

// Result describes one executed command.
type Result struct {
	Command   string
	Succeeded bool
	// Reason is one of the Reason constants of this package or of the
	// reaction package. Detail holds the underlying error text, if any.
	Reason string
	Detail string
	// Reaction is set for Like commands.
	Reaction *reaction.Result
}

func failed(reason string, err error) Result {
	res := Result{Reason: reason}
	if err != nil {
		res.Detail = err.Error()
	}
	return res
}

// Executor runs commands against one page.
type Executor struct {
	logger         *zap.Logger
	page           surface.Page
	act            *activation.Activator
	controls       Controls
	reactions      *reaction.Machine
	settle         func(ctx context.Context) bool
	confirmTimeout time.Duration
	confirmEvery   time.Duration
}

// NewExecutor wires an executor. settle may be nil.
func NewExecutor(logger *zap.Logger, act *activation.Activator, controls Controls, reactions *reaction.Machine, settle func(ctx context.Context) bool, confirmTimeout time.Duration) *Executor {
	if settle == nil {
		settle = func(context.Context) bool { return true }
	}
	if confirmTimeout <= 0 {
		confirmTimeout = 15 * time.Second
	}
	return &Executor{
		logger:         logger.Named("interaction"),
		page:           act.Page(),
		act:            act,
		controls:       controls,
		reactions:      reactions,
		settle:         settle,
		confirmTimeout: confirmTimeout,
		confirmEvery:   250 * time.Millisecond,
	}
}

// Settle waits for the page to stop changing.
func (e *Executor) Settle(ctx context.Context) bool { return e.settle(ctx) }

// RenderedItems reads every rendered content item, skipping stale ones.
func (e *Executor) RenderedItems(ctx context.Context) []dedup.Item {
	elements, err := e.controls.ContentItems(ctx)
	if err != nil {
		e.logger.Debug("Listing content items failed.", zap.Error(err))
		return nil
	}
	return dedup.Collect(ctx, e.logger, elements, e.controls.ItemText)
}

// ExpandItems clicks the "more items" control up to max times, settling after
// each click, and returns how many clicks went through.
func (e *Executor) ExpandItems(ctx context.Context, max int) int {
	clicks := 0
	for clicks < max && ctx.Err() == nil {
		ctl, err := e.controls.ExpandControl(ctx)
		if err != nil {
			break
		}
		if _, err := e.act.Activate(ctx, ctl, nil); err != nil {
			e.logger.Debug("Expand control did not activate.", zap.Error(err))
			break
		}
		clicks++
		e.settle(ctx)
	}
	return clicks
}

// Execute runs cmd and reports whether its effect was observed.
func (e *Executor) Execute(ctx context.Context, cmd Command) Result {
	var res Result
	switch c := cmd.(type) {
	case Like:
		r := e.reactions.Drive(ctx, c.Target, c.Kind)
		res = Result{Succeeded: r.Succeeded, Reason: r.Reason, Detail: r.Detail, Reaction: &r}
	case Comment:
		res = e.comment(ctx, c)
	case Reply:
		res = e.reply(ctx, c)
	case OpenTab:
		res = e.openTab(ctx, c)
	case CloseTab:
		res = e.closeTab(ctx)
	default:
		res = Result{Reason: ReasonUnknownCommand, Detail: fmt.Sprintf("%T", cmd)}
	}
	if cmd != nil {
		res.Command = cmd.commandName()
	}
	return res
}

func (e *Executor) openTab(ctx context.Context, c OpenTab) Result {
	tabs, ok := e.page.(surface.Tabs)
	if !ok {
		return Result{Reason: ReasonTabsUnsupported}
	}
	if err := tabs.OpenTab(ctx, c.URL); err != nil {
		return failed(ReasonTabFailed, err)
	}
	e.settle(ctx)
	return Result{Succeeded: true}
}

func (e *Executor) closeTab(ctx context.Context) Result {
	tabs, ok := e.page.(surface.Tabs)
	if !ok {
		return Result{Reason: ReasonTabsUnsupported}
	}
	if err := tabs.CloseTab(ctx); err != nil {
		return failed(ReasonTabFailed, err)
	}
	return Result{Succeeded: true}
}

func (e *Executor) comment(ctx context.Context, c Comment) Result {
	box, err := e.controls.CommentBox(ctx)
	if err != nil {
		return failed(ReasonComposerMissing, err)
	}
	return e.compose(ctx, box, c.Text)
}

func (e *Executor) reply(ctx context.Context, c Reply) Result {
	trigger, err := e.controls.ReplyTrigger(ctx, c.Parent)
	if err != nil {
		if errors.Is(err, surface.ErrStaleElement) {
			return Result{Reason: ReasonParentStale}
		}
		return failed(ReasonReplyMissing, err)
	}

	boxOpen := func(ctx context.Context) bool {
		_, err := e.controls.ReplyBox(ctx, c.Parent)
		return err == nil
	}
	if _, err := e.act.Activate(ctx, trigger, boxOpen); err != nil {
		if errors.Is(err, surface.ErrStaleElement) {
			return Result{Reason: ReasonParentStale}
		}
		return failed(ReasonReplyNotOpened, err)
	}

	box, err := e.controls.ReplyBox(ctx, c.Parent)
	if err != nil {
		return failed(ReasonReplyNotOpened, err)
	}
	return e.compose(ctx, box, c.Text)
}

// compose focuses box, enters text, submits and waits for the text to show up
// among the rendered items.
func (e *Executor) compose(ctx context.Context, box surface.Element, text string) Result {
	focused := func(ctx context.Context) bool {
		ok, err := e.page.HasFocus(ctx, box)
		return err == nil && ok
	}
	if _, err := e.act.ActivateWith(ctx, box, focused,
		activation.NativeClick, activation.ScriptClick, activation.FocusElement); err != nil {
		return failed(ReasonComposerInactive, err)
	}

	if err := e.page.TypeText(ctx, text); err != nil {
		return failed(ReasonTypingFailed, err)
	}

	if btn, err := e.controls.SubmitButton(ctx); err == nil {
		if _, err := e.act.Activate(ctx, btn, nil); err != nil {
			return failed(ReasonSubmitFailed, err)
		}
	} else if err := e.page.PressEnter(ctx); err != nil {
		return failed(ReasonSubmitFailed, err)
	}

	if !e.confirm(ctx, text) {
		return Result{Reason: ReasonNotConfirmed}
	}
	return Result{Succeeded: true}
}

// confirm polls the rendered items until text appears or the confirmation
// window closes.
func (e *Executor) confirm(ctx context.Context, text string) bool {
	ctx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()

	for {
		e.settle(ctx)
		if dedup.IsDuplicate(e.RenderedItems(ctx), text) {
			return true
		}
		select {
		case <-ctx.Done():
			e.logger.Warn("Submitted text did not appear.", zap.Duration("waited", e.confirmTimeout))
			return false
		case <-time.After(e.confirmEvery):
		}
	}
}
