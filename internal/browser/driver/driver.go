// internal/browser/driver/driver.go
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/threadweaver/internal/config"
	"github.com/xkilldash9x/threadweaver/internal/surface"
)

// ErrNoTab is returned by CloseTab when only the attached tab remains.
var ErrNoTab = errors.New("no opened tab to close")

// tab is one CDP target. The stack in Driver holds the attached tab at index 0.
type tab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Driver drives a browser that is already running and exposes a DevTools
// websocket. It implements surface.Driver.
type Driver struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocCancel context.CancelFunc

	mu     sync.Mutex
	tabs   []tab
	closed bool
	once   sync.Once
}

var _ surface.Driver = (*Driver)(nil)

// Attach connects to the browser behind wsURL and takes its first page.
func Attach(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig, wsURL string) (*Driver, error) {
	if wsURL == "" {
		return nil, errors.New("empty websocket endpoint")
	}
	log := logger.Named("browser").With(zap.String("endpoint", wsURL))

	// Browser contexts outlive this call; only the connect wait honors ctx.
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(Detach(ctx), wsURL)
	sugar := log.Sugar()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Warnf),
	)

	if err := startTarget(ctx, tabCtx, cfg.ConnectTimeout); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to attach to browser: %w", err)
	}

	log.Info("Attached to browser.")
	return &Driver{
		logger:      log,
		cfg:         cfg,
		allocCancel: allocCancel,
		tabs:        []tab{{ctx: tabCtx, cancel: tabCancel}},
	}, nil
}

// Attacher adapts Attach to the shape the session manager expects.
func Attacher(logger *zap.Logger, cfg config.BrowserConfig) func(ctx context.Context, wsURL string) (surface.Driver, error) {
	return func(ctx context.Context, wsURL string) (surface.Driver, error) {
		d, err := Attach(ctx, logger, cfg, wsURL)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
}

// startTarget performs the first Run on a fresh chromedp context. That Run
// ties the target's lifetime to tabCtx, so it cannot take a derived timeout
// context; the wait is bounded here instead.
func startTarget(ctx, tabCtx context.Context, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(tabCtx) }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("no response within %s: %w", timeout, context.DeadlineExceeded)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// current returns the tab on top of the stack.
func (d *Driver) current() (context.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || len(d.tabs) == 0 {
		return nil, errors.New("browser driver is closed")
	}
	return d.tabs[len(d.tabs)-1].ctx, nil
}

// run executes actions against target, bounded by ctx and timeout.
func (d *Driver) run(ctx, target context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	runCtx, release := CombineContext(target, opCtx)
	defer release()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if target.Err() != nil {
			return fmt.Errorf("%w: tab closed", surface.ErrStaleElement)
		}
		if cause := context.Cause(runCtx); errors.Is(cause, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("browser action timed out after %s: %w", timeout, cause)
		}
		return classify(err)
	}
	return nil
}

// runOnPage executes actions against the active tab with the action timeout.
func (d *Driver) runOnPage(ctx context.Context, actions ...chromedp.Action) error {
	target, err := d.current()
	if err != nil {
		return err
	}
	return d.run(ctx, target, d.cfg.ActionTimeout, actions...)
}

// Navigate loads url in the active tab.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	target, err := d.current()
	if err != nil {
		return err
	}
	if err := d.run(ctx, target, d.cfg.NavigationTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// OpenTab opens url in a new tab that becomes the active one.
func (d *Driver) OpenTab(ctx context.Context, url string) error {
	d.mu.Lock()
	if d.closed || len(d.tabs) == 0 {
		d.mu.Unlock()
		return errors.New("browser driver is closed")
	}
	root := d.tabs[0].ctx
	d.mu.Unlock()

	tabCtx, cancel := chromedp.NewContext(root)
	if err := startTarget(ctx, tabCtx, d.cfg.ConnectTimeout); err != nil {
		cancel()
		return fmt.Errorf("failed to open tab: %w", err)
	}
	if err := d.run(ctx, tabCtx, d.cfg.NavigationTimeout, chromedp.Navigate(url)); err != nil {
		cancel()
		return fmt.Errorf("failed to navigate new tab to %s: %w", url, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		cancel()
		return errors.New("browser driver is closed")
	}
	d.tabs = append(d.tabs, tab{ctx: tabCtx, cancel: cancel})
	d.logger.Debug("Opened tab.", zap.String("url", url), zap.Int("depth", len(d.tabs)))
	return nil
}

// CloseTab closes the most recently opened tab. The attached tab stays.
func (d *Driver) CloseTab(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("browser driver is closed")
	}
	if len(d.tabs) <= 1 {
		return ErrNoTab
	}
	top := d.tabs[len(d.tabs)-1]
	d.tabs = d.tabs[:len(d.tabs)-1]
	top.cancel()
	d.logger.Debug("Closed tab.", zap.Int("depth", len(d.tabs)))
	return nil
}

// Close releases every tab and the connection. The browser process itself
// belongs to the provisioning service.
func (d *Driver) Close() error {
	d.once.Do(func() {
		d.mu.Lock()
		tabs := d.tabs
		d.tabs = nil
		d.closed = true
		d.mu.Unlock()

		for i := len(tabs) - 1; i >= 0; i-- {
			tabs[i].cancel()
		}
		if d.allocCancel != nil {
			d.allocCancel()
		}
		d.logger.Info("Detached from browser.")
	})
	return nil
}
