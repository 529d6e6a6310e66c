// File: internal/adapter/adapter.go

// Package adapter maps the abstract workflow onto one site's markup. All site
// knowledge lives in the selector catalogue handed to New.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/threadweaver/internal/activation"
	"github.com/xkilldash9x/threadweaver/internal/config"
	"github.com/xkilldash9x/threadweaver/internal/reaction"
	"github.com/xkilldash9x/threadweaver/internal/surface"
	"go.uber.org/zap"
)

// Adapter locates site controls and reads reaction state.
type Adapter struct {
	logger *zap.Logger
	page   surface.Page
	act    *activation.Activator
	sel    config.SelectorsConfig
	wait   time.Duration
}

// New creates an adapter. wait bounds how long controls that appear after an
// interaction are waited for.
func New(logger *zap.Logger, act *activation.Activator, sel config.SelectorsConfig, wait time.Duration) *Adapter {
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &Adapter{
		logger: logger.Named("adapter"),
		page:   act.Page(),
		act:    act,
		sel:    sel,
		wait:   wait,
	}
}

// -- Content items --

// ContentItems returns the rendered comment items in document order.
func (a *Adapter) ContentItems(ctx context.Context) ([]surface.Element, error) {
	return a.page.FindAll(ctx, a.sel.CommentItem)
}

// ItemText returns the comparable text of an item: its text node when the
// catalogue names one, the whole item otherwise.
func (a *Adapter) ItemText(ctx context.Context, item surface.Element) (string, error) {
	if a.sel.CommentText != "" {
		body, err := surface.FirstWithin(ctx, a.page, item, a.sel.CommentText)
		switch {
		case err == nil:
			return a.page.TextOf(ctx, body)
		case !errors.Is(err, surface.ErrNotFound):
			return "", err
		}
	}
	return a.page.TextOf(ctx, item)
}

// ExpandControl returns a visible "more items" control, if any.
func (a *Adapter) ExpandControl(ctx context.Context) (surface.Element, error) {
	if a.sel.ExpandMore == "" {
		return nil, surface.ErrNotFound
	}
	candidates, err := a.page.FindAll(ctx, a.sel.ExpandMore)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		if visible, err := a.page.IsVisible(ctx, c); err == nil && visible {
			return c, nil
		}
	}
	return nil, surface.ErrNotFound
}

// -- Composer controls --

// CommentBox waits for the top-level comment input.
func (a *Adapter) CommentBox(ctx context.Context) (surface.Element, error) {
	return a.page.WaitFor(ctx, a.sel.CommentBox, a.wait)
}

// ReplyTrigger returns the reply control inside parent.
func (a *Adapter) ReplyTrigger(ctx context.Context, parent surface.Element) (surface.Element, error) {
	return surface.FirstWithin(ctx, a.page, parent, a.sel.ReplyButton)
}

// ReplyBox returns the reply input opened for parent. Inputs nested in the
// parent are preferred; otherwise the page-level input is waited for.
func (a *Adapter) ReplyBox(ctx context.Context, parent surface.Element) (surface.Element, error) {
	if box, err := surface.FirstWithin(ctx, a.page, parent, a.sel.ReplyBox); err == nil {
		return box, nil
	} else if errors.Is(err, surface.ErrStaleElement) {
		return nil, err
	}
	return a.page.WaitFor(ctx, a.sel.ReplyBox, a.wait)
}

// SubmitButton returns the submit control, or surface.ErrNotFound when the
// site submits on Enter.
func (a *Adapter) SubmitButton(ctx context.Context) (surface.Element, error) {
	if a.sel.SubmitButton == "" {
		return nil, surface.ErrNotFound
	}
	return a.page.Find(ctx, a.sel.SubmitButton)
}

// -- Reactions --

func (a *Adapter) reactionTrigger(ctx context.Context, target surface.Element) (surface.Element, error) {
	if target == nil {
		if a.sel.PostReaction == "" {
			return nil, fmt.Errorf("post reaction selector not configured: %w", surface.ErrNotFound)
		}
		return a.page.Find(ctx, a.sel.PostReaction)
	}
	if a.sel.ItemReaction == "" {
		return nil, fmt.Errorf("item reaction selector not configured: %w", surface.ErrNotFound)
	}
	return surface.FirstWithin(ctx, a.page, target, a.sel.ItemReaction)
}

// label returns the site label of kind.
func (a *Adapter) label(kind reaction.Kind) string {
	if l, ok := a.sel.ReactionLabels[string(kind)]; ok && l != "" {
		return l
	}
	s := string(kind)
	return strings.ToUpper(s[:1]) + s[1:]
}

// Current reads the reaction state from the trigger's state attribute. A
// label matching an active template names the kind; otherwise a pressed
// trigger counts as the default kind.
func (a *Adapter) Current(ctx context.Context, target surface.Element) (reaction.State, error) {
	trigger, err := a.reactionTrigger(ctx, target)
	if err != nil {
		return reaction.State{}, err
	}

	if a.sel.ReactionStateAttribute != "" {
		value, present, err := a.page.AttributeOf(ctx, trigger, a.sel.ReactionStateAttribute)
		if err != nil {
			return reaction.State{}, err
		}
		if present {
			value = strings.TrimSpace(value)
			for _, kind := range reaction.Kinds {
				for _, tpl := range a.sel.ReactionActiveTemplates {
					if strings.EqualFold(value, fmt.Sprintf(tpl, a.label(kind))) {
						return reaction.Named(kind), nil
					}
				}
			}
		}
	}

	if a.sel.ReactionPressedAttribute != "" {
		pressed, present, err := a.page.AttributeOf(ctx, trigger, a.sel.ReactionPressedAttribute)
		if err != nil {
			return reaction.State{}, err
		}
		if present && strings.EqualFold(strings.TrimSpace(pressed), "true") {
			return reaction.Named(reaction.Default), nil
		}
	}
	return reaction.None(), nil
}

// Apply sets kind. The default kind is the trigger itself; other kinds are
// picked from the palette the trigger opens.
func (a *Adapter) Apply(ctx context.Context, target surface.Element, kind reaction.Kind) error {
	trigger, err := a.reactionTrigger(ctx, target)
	if err != nil {
		return err
	}
	if kind == reaction.Default {
		_, err := a.act.Activate(ctx, trigger, nil)
		return err
	}
	if a.sel.ReactionOption == "" {
		return fmt.Errorf("no reaction palette configured for %q", kind)
	}

	optionSelector := fmt.Sprintf(a.sel.ReactionOption, a.label(kind))
	opened := func(ctx context.Context) bool {
		_, err := a.page.Find(ctx, optionSelector)
		return err == nil
	}
	// A native click on the trigger applies the default kind on most sites,
	// so the palette is opened by focus first.
	if _, err := a.act.ActivateWith(ctx, trigger, opened, activation.FocusElement, activation.ScriptClick); err != nil {
		return fmt.Errorf("reaction palette did not open: %w", err)
	}
	option, err := a.page.WaitFor(ctx, optionSelector, a.wait)
	if err != nil {
		return fmt.Errorf("reaction option %q not found: %w", kind, err)
	}
	_, err = a.act.Activate(ctx, option, nil)
	return err
}

// Withdraw removes the current reaction by toggling the trigger.
func (a *Adapter) Withdraw(ctx context.Context, target surface.Element, kind reaction.Kind) error {
	trigger, err := a.reactionTrigger(ctx, target)
	if err != nil {
		return err
	}
	_, err = a.act.Activate(ctx, trigger, nil)
	return err
}

var _ reaction.Surface = (*Adapter)(nil)
