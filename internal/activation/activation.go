// File: internal/activation/activation.go
package activation

import (
	"context"
	"errors"
	"fmt"

	"github.com/xkilldash9x/threadweaver/internal/surface"
	"go.uber.org/zap"
)

// ErrNotActivated is returned when every strategy was tried without the
// postcondition holding.
var ErrNotActivated = errors.New("no activation strategy succeeded")

// Strategy is one way of activating an element. Try reports whether the
// attempt itself went through; it says nothing about its effect.
type Strategy struct {
	Name string
	Try  func(ctx context.Context, p surface.Page, target surface.Element) bool
}

// Verifier checks the effect of an activation.
type Verifier func(ctx context.Context) bool

// NativeClick dispatches a real mouse click.
var NativeClick = Strategy{
	Name: "native-click",
	Try: func(ctx context.Context, p surface.Page, target surface.Element) bool {
		return p.Click(ctx, target) == nil
	},
}

// ScriptClick calls the element's click() from script.
var ScriptClick = Strategy{
	Name: "script-click",
	Try: func(ctx context.Context, p surface.Page, target surface.Element) bool {
		return p.ScriptClick(ctx, target) == nil
	},
}

// FocusElement focuses the element without clicking it.
var FocusElement = Strategy{
	Name: "focus",
	Try: func(ctx context.Context, p surface.Page, target surface.Element) bool {
		return p.Focus(ctx, target) == nil
	},
}

// Descend clicks the first match of selector inside the target, for targets
// that wrap the real control.
func Descend(selector string) Strategy {
	return Strategy{
		Name: "descend:" + selector,
		Try: func(ctx context.Context, p surface.Page, target surface.Element) bool {
			inner, err := surface.FirstWithin(ctx, p, target, selector)
			if err != nil {
				return false
			}
			return p.Click(ctx, inner) == nil || p.ScriptClick(ctx, inner) == nil
		},
	}
}

// DefaultStrategies is the order used when none is given.
func DefaultStrategies() []Strategy {
	return []Strategy{NativeClick, ScriptClick}
}

// Activator tries strategies in order until one is verified.
type Activator struct {
	logger     *zap.Logger
	page       surface.Page
	settle     func(ctx context.Context) bool
	strategies []Strategy
}

// New creates an activator. settle, if non-nil, runs after every strategy that
// went through and before verification.
func New(logger *zap.Logger, page surface.Page, settle func(ctx context.Context) bool, strategies ...Strategy) *Activator {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	if settle == nil {
		settle = func(context.Context) bool { return true }
	}
	return &Activator{
		logger:     logger.Named("activation"),
		page:       page,
		settle:     settle,
		strategies: strategies,
	}
}

// Page returns the page the activator drives.
func (a *Activator) Page() surface.Page { return a.page }

// Activate runs the default strategies against target.
func (a *Activator) Activate(ctx context.Context, target surface.Element, verify Verifier) (string, error) {
	return a.ActivateWith(ctx, target, verify, a.strategies...)
}

// ActivateWith runs the given strategies against target and returns the name
// of the first one whose effect verify confirms. A nil verify accepts any
// strategy that went through. A stale target fails fast with
// surface.ErrStaleElement.
func (a *Activator) ActivateWith(ctx context.Context, target surface.Element, verify Verifier, strategies ...Strategy) (string, error) {
	if err := a.page.ScrollIntoView(ctx, target); err != nil {
		if errors.Is(err, surface.ErrStaleElement) {
			return "", err
		}
		a.logger.Debug("Scroll into view failed; trying anyway.", zap.String("element", target.Key()), zap.Error(err))
	}

	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !s.Try(ctx, a.page, target) {
			a.logger.Debug("Strategy did not go through.", zap.String("strategy", s.Name), zap.String("element", target.Key()))
			continue
		}
		a.settle(ctx)
		if verify == nil || verify(ctx) {
			a.logger.Debug("Element activated.", zap.String("strategy", s.Name), zap.String("element", target.Key()))
			return s.Name, nil
		}
		a.logger.Debug("Strategy went through but the postcondition does not hold.",
			zap.String("strategy", s.Name), zap.String("element", target.Key()))
	}
	return "", fmt.Errorf("%w for element %s", ErrNotActivated, target.Key())
}
