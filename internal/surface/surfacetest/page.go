// File: internal/surface/surfacetest/page.go

// Package surfacetest provides an in-memory surface.Page for tests.
package surfacetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/threadweaver/internal/surface"
)

// Node is a fake element. It matches a selector when the selector is listed in
// Selectors.
type Node struct {
	ID        string
	Selectors []string
	Text      string
	Attrs     map[string]string
	Value     string
	Hidden    bool
	Stale     bool
	Children  []*Node

	// Hooks run with the page lock released.
	OnClick       func(p *Page, n *Node) error
	OnScriptClick func(p *Page, n *Node) error
	OnEnter       func(p *Page, n *Node)
	// ClickErr makes native clicks fail without running OnClick.
	ClickErr error
	// FocusFails makes Focus report success without moving focus.
	FocusFails bool

	parent *Node
}

// Key implements surface.Element.
func (n *Node) Key() string { return n.ID }

// Append adds children and returns n.
func (n *Node) Append(children ...*Node) *Node {
	for _, c := range children {
		c.parent = n
		n.Children = append(n.Children, c)
	}
	return n
}

// Remove detaches n from its parent and marks the subtree stale.
func (n *Node) Remove() {
	if n.parent != nil {
		kept := n.parent.Children[:0]
		for _, c := range n.parent.Children {
			if c != n {
				kept = append(kept, c)
			}
		}
		n.parent.Children = kept
		n.parent = nil
	}
	walk(n, func(d *Node) bool { d.Stale = true; return true })
}

func (n *Node) matches(selector string) bool {
	for _, s := range n.Selectors {
		if s == selector {
			return true
		}
	}
	return false
}

// El builds a node with the given id, text and selectors.
func El(id, text string, selectors ...string) *Node {
	return &Node{ID: id, Text: text, Selectors: selectors, Attrs: map[string]string{}}
}

// Page is a thread-safe fake page.
type Page struct {
	mu sync.Mutex

	Root *Node
	// Samples are returned by Snapshot in turn; the last one repeats.
	Samples     []surface.Snapshot
	SnapshotErr error

	NavigateErr error
	OpenTabErr  error
	Navigated   []string
	OpenedTabs  []string
	ClosedTabs  int
	Closed      bool
	Actions     []string

	focused     *Node
	sampleIndex int
}

// NewPage returns a page whose body holds children.
func NewPage(children ...*Node) *Page {
	return &Page{Root: El("body", "", "body").Append(children...)}
}

// Add appends children to the body.
func (p *Page) Add(children ...*Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Root.Append(children...)
}

// Focused returns the focused node, if any.
func (p *Page) Focused() *Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.focused
}

// ActionLog returns a copy of the recorded actions.
func (p *Page) ActionLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Actions))
	copy(out, p.Actions)
	return out
}

func (p *Page) record(format string, args ...interface{}) {
	p.Actions = append(p.Actions, fmt.Sprintf(format, args...))
}

func walk(n *Node, fn func(*Node) bool) bool {
	for _, c := range n.Children {
		if !fn(c) || !walk(c, fn) {
			return false
		}
	}
	return true
}

func node(el surface.Element) (*Node, error) {
	n, ok := el.(*Node)
	if !ok || n == nil {
		return nil, fmt.Errorf("surfacetest: foreign element %T", el)
	}
	if n.Stale {
		return nil, surface.ErrStaleElement
	}
	return n, nil
}

func (p *Page) Snapshot(ctx context.Context) (surface.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return surface.Snapshot{}, err
	}
	if p.SnapshotErr != nil {
		return surface.Snapshot{}, p.SnapshotErr
	}
	if len(p.Samples) == 0 {
		count := 0
		walk(p.Root, func(*Node) bool { count++; return true })
		return surface.Snapshot{Elements: count}, nil
	}
	s := p.Samples[p.sampleIndex]
	if p.sampleIndex < len(p.Samples)-1 {
		p.sampleIndex++
	}
	return s, nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("navigate %s", url)
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.Navigated = append(p.Navigated, url)
	return nil
}

func (p *Page) Find(ctx context.Context, selector string) (surface.Element, error) {
	all, err := p.FindAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, surface.ErrNotFound
	}
	return all[0], nil
}

func (p *Page) FindAll(ctx context.Context, selector string) ([]surface.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return collect(p.Root, selector), nil
}

func (p *Page) FindWithin(ctx context.Context, parent surface.Element, selector string) ([]surface.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := node(parent)
	if err != nil {
		return nil, err
	}
	return collect(n, selector), nil
}

func collect(root *Node, selector string) []surface.Element {
	var out []surface.Element
	walk(root, func(n *Node) bool {
		if n.matches(selector) {
			out = append(out, n)
		}
		return true
	})
	return out
}

func (p *Page) WaitFor(ctx context.Context, selector string, timeout time.Duration) (surface.Element, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		if el, err := p.Find(ctx, selector); err == nil {
			return el, nil
		}
		select {
		case <-ctx.Done():
			return nil, surface.ErrNotFound
		case <-time.After(time.Millisecond):
		}
	}
}

func (p *Page) Click(ctx context.Context, el surface.Element) error {
	p.mu.Lock()
	n, err := node(el)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.record("click %s", n.ID)
	if n.ClickErr != nil {
		p.mu.Unlock()
		return n.ClickErr
	}
	if !n.FocusFails {
		p.focused = n
	}
	hook := n.OnClick
	p.mu.Unlock()
	if hook != nil {
		return hook(p, n)
	}
	return nil
}

func (p *Page) ScriptClick(ctx context.Context, el surface.Element) error {
	p.mu.Lock()
	n, err := node(el)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.record("script-click %s", n.ID)
	hook := n.OnScriptClick
	if hook == nil {
		hook = n.OnClick
	}
	p.mu.Unlock()
	if hook != nil {
		return hook(p, n)
	}
	return nil
}

func (p *Page) Focus(ctx context.Context, el surface.Element) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := node(el)
	if err != nil {
		return err
	}
	p.record("focus %s", n.ID)
	if !n.FocusFails {
		p.focused = n
	}
	return nil
}

func (p *Page) HasFocus(ctx context.Context, el surface.Element) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := node(el)
	if err != nil {
		return false, err
	}
	return p.focused == n, nil
}

func (p *Page) ScrollIntoView(ctx context.Context, el surface.Element) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := node(el)
	return err
}

func (p *Page) TypeText(ctx context.Context, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.focused == nil {
		return fmt.Errorf("surfacetest: no focused element")
	}
	p.record("type %s", p.focused.ID)
	p.focused.Value += text
	return nil
}

func (p *Page) PressEnter(ctx context.Context) error {
	p.mu.Lock()
	n := p.focused
	if n == nil {
		p.mu.Unlock()
		return fmt.Errorf("surfacetest: no focused element")
	}
	p.record("enter %s", n.ID)
	hook := n.OnEnter
	p.mu.Unlock()
	if hook != nil {
		hook(p, n)
	}
	return nil
}

func (p *Page) IsVisible(ctx context.Context, el surface.Element) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := node(el)
	if err != nil {
		return false, err
	}
	return !n.Hidden, nil
}

// TextOf returns the node text followed by its descendants' text, space joined.
func (p *Page) TextOf(ctx context.Context, el surface.Element) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := node(el)
	if err != nil {
		return "", err
	}
	text := n.Text
	walk(n, func(d *Node) bool {
		if d.Text != "" {
			if text != "" {
				text += " "
			}
			text += d.Text
		}
		return true
	})
	return text, nil
}

func (p *Page) AttributeOf(ctx context.Context, el surface.Element, name string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := node(el)
	if err != nil {
		return "", false, err
	}
	v, ok := n.Attrs[name]
	return v, ok, nil
}

func (p *Page) OpenTab(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("open-tab %s", url)
	if p.OpenTabErr != nil {
		return p.OpenTabErr
	}
	p.OpenedTabs = append(p.OpenedTabs, url)
	return nil
}

func (p *Page) CloseTab(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("close-tab")
	p.ClosedTabs++
	return nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

var _ surface.Driver = (*Page)(nil)
