// internal/browser/driver/page.go
package driver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/xkilldash9x/threadweaver/internal/surface"
)

// Element wraps a DOM node together with the tab it was found in.
type Element struct {
	node *cdp.Node
	tab  context.Context
}

// Key returns the backend node id, which is stable for the node's lifetime.
func (e *Element) Key() string {
	if e == nil || e.node == nil {
		return ""
	}
	return strconv.FormatInt(int64(e.node.BackendNodeID), 10)
}

// Chrome reports operations on removed or re-rendered nodes with these.
var staleMarkers = []string{
	"Could not find node with given id",
	"No node with given id",
	"Node is detached",
	"does not belong to the document",
	"Cannot find context with specified id",
	"Node with given id does not belong",
}

// classify maps CDP failures on dead nodes to surface.ErrStaleElement.
func classify(err error) error {
	if err == nil || errors.Is(err, surface.ErrStaleElement) {
		return err
	}
	msg := err.Error()
	for _, marker := range staleMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", surface.ErrStaleElement, err)
		}
	}
	return err
}

func elementOf(el surface.Element) (*Element, error) {
	e, ok := el.(*Element)
	if !ok || e == nil || e.node == nil {
		return nil, fmt.Errorf("%w: handle does not belong to this browser", surface.ErrStaleElement)
	}
	if e.tab == nil || e.tab.Err() != nil {
		return nil, fmt.Errorf("%w: tab closed", surface.ErrStaleElement)
	}
	return e, nil
}

func wrap(nodes []*cdp.Node, target context.Context) []surface.Element {
	out := make([]surface.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &Element{node: n, tab: target})
	}
	return out
}

// onNode runs fn against el's node inside el's own tab.
func (d *Driver) onNode(ctx context.Context, el surface.Element, fn func(ctx context.Context, n *cdp.Node) error) error {
	e, err := elementOf(el)
	if err != nil {
		return err
	}
	return d.run(ctx, e.tab, d.cfg.ActionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		return fn(ctx, e.node)
	}))
}

// callOn evaluates a function with the node bound to this.
func (d *Driver) callOn(ctx context.Context, el surface.Element, fn string, res interface{}, args ...interface{}) error {
	return d.onNode(ctx, el, func(ctx context.Context, n *cdp.Node) error {
		obj, err := dom.ResolveNode().WithBackendNodeID(n.BackendNodeID).Do(ctx)
		if err != nil {
			return err
		}
		// Releasing fails once the page navigated away, which is harmless.
		defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()
		return chromedp.CallFunctionOn(fn, res, func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
			return p.WithObjectID(obj.ObjectID)
		}, args...).Do(ctx)
	})
}

const snapshotJS = `(() => ({
	elements: document.getElementsByTagName('*').length,
	contentLength: document.body ? document.body.innerText.length : 0,
	resources: performance.getEntriesByType('resource').length
}))()`

const (
	clickJS     = `function() { this.click(); return true; }`
	hasFocusJS  = `function() { const a = document.activeElement; return !!a && (a === this || this.contains(a)); }`
	textJS      = `function() { return this.innerText || this.textContent || ''; }`
	attributeJS = `function(name) { return { present: this.hasAttribute(name), value: this.getAttribute(name) || '' }; }`
	visibleJS   = `function() {
		if (!this.isConnected) return false;
		const s = window.getComputedStyle(this);
		if (s.display === 'none' || s.visibility === 'hidden') return false;
		const r = this.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	}`
)

// Snapshot samples element count, visible text length and loaded resources.
func (d *Driver) Snapshot(ctx context.Context) (surface.Snapshot, error) {
	var snap surface.Snapshot
	if err := d.runOnPage(ctx, chromedp.Evaluate(snapshotJS, &snap)); err != nil {
		return surface.Snapshot{}, fmt.Errorf("failed to sample page: %w", err)
	}
	return snap, nil
}

// Find returns the first element matching selector.
func (d *Driver) Find(ctx context.Context, selector string) (surface.Element, error) {
	all, err := d.FindAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, surface.ErrNotFound
	}
	return all[0], nil
}

// FindAll returns every element matching selector, possibly none.
func (d *Driver) FindAll(ctx context.Context, selector string) ([]surface.Element, error) {
	target, err := d.current()
	if err != nil {
		return nil, err
	}
	var nodes []*cdp.Node
	if err := d.run(ctx, target, d.cfg.ActionTimeout,
		chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)),
	); err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", selector, err)
	}
	return wrap(nodes, target), nil
}

// FindWithin returns the elements matching selector inside parent.
func (d *Driver) FindWithin(ctx context.Context, parent surface.Element, selector string) ([]surface.Element, error) {
	p, err := elementOf(parent)
	if err != nil {
		return nil, err
	}
	var nodes []*cdp.Node
	if err := d.run(ctx, p.tab, d.cfg.ActionTimeout,
		chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0), chromedp.FromNode(p.node)),
	); err != nil {
		return nil, fmt.Errorf("failed to query %q within element: %w", selector, err)
	}
	return wrap(nodes, p.tab), nil
}

// WaitFor blocks until selector matches in the active tab.
func (d *Driver) WaitFor(ctx context.Context, selector string, timeout time.Duration) (surface.Element, error) {
	target, err := d.current()
	if err != nil {
		return nil, err
	}
	var nodes []*cdp.Node
	err = d.run(ctx, target, timeout, chromedp.Nodes(selector, &nodes, chromedp.ByQuery))
	switch {
	case err == nil && len(nodes) > 0:
		return &Element{node: nodes[0], tab: target}, nil
	case err == nil, errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return nil, fmt.Errorf("%w: %q after %s", surface.ErrNotFound, selector, timeout)
	default:
		return nil, fmt.Errorf("failed waiting for %q: %w", selector, err)
	}
}

// Click dispatches a real mouse click at the element's center.
func (d *Driver) Click(ctx context.Context, el surface.Element) error {
	return d.onNode(ctx, el, func(ctx context.Context, n *cdp.Node) error {
		return chromedp.MouseClickNode(n).Do(ctx)
	})
}

// ScriptClick calls the element's click() method.
func (d *Driver) ScriptClick(ctx context.Context, el surface.Element) error {
	var ok bool
	return d.callOn(ctx, el, clickJS, &ok)
}

// Focus moves keyboard focus to the element.
func (d *Driver) Focus(ctx context.Context, el surface.Element) error {
	return d.onNode(ctx, el, func(ctx context.Context, n *cdp.Node) error {
		return dom.Focus().WithBackendNodeID(n.BackendNodeID).Do(ctx)
	})
}

// HasFocus reports whether the element or one of its descendants is focused.
func (d *Driver) HasFocus(ctx context.Context, el surface.Element) (bool, error) {
	var focused bool
	err := d.callOn(ctx, el, hasFocusJS, &focused)
	return focused, err
}

// ScrollIntoView scrolls the element into the viewport if it is outside it.
func (d *Driver) ScrollIntoView(ctx context.Context, el surface.Element) error {
	return d.onNode(ctx, el, func(ctx context.Context, n *cdp.Node) error {
		return dom.ScrollIntoViewIfNeeded().WithBackendNodeID(n.BackendNodeID).Do(ctx)
	})
}

// TypeText inserts text into whatever has focus. Line breaks are inserted as
// text, not pressed as Enter, so a multi-line comment is not submitted early.
func (d *Driver) TypeText(ctx context.Context, text string) error {
	return d.runOnPage(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.InsertText(text).Do(ctx)
	}))
}

// PressEnter sends a single Enter key.
func (d *Driver) PressEnter(ctx context.Context) error {
	return d.runOnPage(ctx, chromedp.KeyEvent(kb.Enter))
}

// IsVisible reports whether the element is connected, displayed and has area.
func (d *Driver) IsVisible(ctx context.Context, el surface.Element) (bool, error) {
	var visible bool
	err := d.callOn(ctx, el, visibleJS, &visible)
	return visible, err
}

// TextOf returns the rendered text of the element.
func (d *Driver) TextOf(ctx context.Context, el surface.Element) (string, error) {
	var text string
	err := d.callOn(ctx, el, textJS, &text)
	return text, err
}

type attributeValue struct {
	Present bool   `json:"present"`
	Value   string `json:"value"`
}

// AttributeOf returns the named attribute and whether it is set.
func (d *Driver) AttributeOf(ctx context.Context, el surface.Element, name string) (string, bool, error) {
	var attr attributeValue
	if err := d.callOn(ctx, el, attributeJS, &attr, name); err != nil {
		return "", false, err
	}
	return attr.Value, attr.Present, nil
}
