// File: internal/surface/surface.go
package surface

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStaleElement reports that a handle no longer refers to a live element.
	ErrStaleElement = errors.New("stale element")
	// ErrNotFound reports that a query matched nothing.
	ErrNotFound = errors.New("element not found")
	// ErrTabsUnsupported is returned by surfaces that cannot open tabs.
	ErrTabsUnsupported = errors.New("tabs not supported")
)

// Element is an opaque handle to a rendered element. Handles can go stale at
// any time; operations on them then fail with ErrStaleElement.
type Element interface {
	// Key identifies the element within one page load.
	Key() string
}

// Snapshot is one sample of page activity.
type Snapshot struct {
	Elements      int `json:"elements"`
	ContentLength int `json:"contentLength"`
	Resources     int `json:"resources"`
}

// Sampler produces activity snapshots.
type Sampler interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Page is the capability set the workflow needs from a rendered page.
type Page interface {
	Sampler

	Navigate(ctx context.Context, url string) error
	// Find returns the first match or ErrNotFound. It does not wait.
	Find(ctx context.Context, selector string) (Element, error)
	// FindAll returns every match in document order; no match is not an error.
	FindAll(ctx context.Context, selector string) ([]Element, error)
	// FindWithin scopes FindAll to the subtree of parent.
	FindWithin(ctx context.Context, parent Element, selector string) ([]Element, error)
	// WaitFor blocks until selector matches or timeout elapses.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) (Element, error)

	Click(ctx context.Context, el Element) error
	ScriptClick(ctx context.Context, el Element) error
	Focus(ctx context.Context, el Element) error
	HasFocus(ctx context.Context, el Element) (bool, error)
	ScrollIntoView(ctx context.Context, el Element) error
	// TypeText sends key events to the focused element.
	TypeText(ctx context.Context, text string) error
	PressEnter(ctx context.Context) error

	IsVisible(ctx context.Context, el Element) (bool, error)
	TextOf(ctx context.Context, el Element) (string, error)
	// AttributeOf returns the attribute value and whether it is present.
	AttributeOf(ctx context.Context, el Element, name string) (string, bool, error)
}

// Tabs is implemented by pages that can open and close browser tabs.
type Tabs interface {
	OpenTab(ctx context.Context, url string) error
	CloseTab(ctx context.Context) error
}

// Driver is a page with tab control that can be released.
type Driver interface {
	Page
	Tabs
	Close() error
}

// FirstWithin returns the first match of selector inside parent.
func FirstWithin(ctx context.Context, p Page, parent Element, selector string) (Element, error) {
	matches, err := p.FindWithin(ctx, parent, selector)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	return matches[0], nil
}
