// internal/session/session.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/threadweaver/internal/provisioner"
	"github.com/xkilldash9x/threadweaver/internal/surface"
)

// ErrSessionStart wraps every failure to bring a session up.
var ErrSessionStart = errors.New("session start failed")

// stopTimeout bounds the best-effort release of a half-started session.
const stopTimeout = 15 * time.Second

// Provisioner starts and stops the browser profile behind an identity.
type Provisioner interface {
	Start(ctx context.Context, identity string) (provisioner.Endpoint, error)
	Stop(ctx context.Context, identity string) error
}

// AttachFunc connects a driver to a running browser's websocket endpoint.
type AttachFunc func(ctx context.Context, wsURL string) (surface.Driver, error)

// Manager creates sessions. One session binds one identity to one browser.
type Manager struct {
	logger      *zap.Logger
	provisioner Provisioner
	attach      AttachFunc
}

// NewManager creates a session manager.
func NewManager(logger *zap.Logger, p Provisioner, attach AttachFunc) *Manager {
	return &Manager{
		logger:      logger.Named("session"),
		provisioner: p,
		attach:      attach,
	}
}

// Session is a live browser owned by a single identity.
type Session struct {
	ID       string
	Identity string
	Endpoint provisioner.Endpoint

	logger      *zap.Logger
	driver      surface.Driver
	provisioner Provisioner

	once     sync.Once
	closeErr error
}

// Start provisions the identity's browser and attaches a driver to it. On any
// failure the browser is stopped again before the error is returned.
func (m *Manager) Start(ctx context.Context, identity string) (*Session, error) {
	id := uuid.NewString()
	log := m.logger.With(zap.String("session_id", id), zap.String("identity", identity))

	endpoint, err := m.provisioner.Start(ctx, identity)
	if err != nil {
		m.release(ctx, log, identity)
		return nil, fmt.Errorf("%w: provisioning %s: %v", ErrSessionStart, identity, err)
	}
	if endpoint.WebSocketURL == "" {
		m.release(ctx, log, identity)
		return nil, fmt.Errorf("%w: provisioning %s returned no websocket endpoint", ErrSessionStart, identity)
	}

	driver, err := m.attach(ctx, endpoint.WebSocketURL)
	if err != nil {
		m.release(ctx, log, identity)
		return nil, fmt.Errorf("%w: attaching to %s: %v", ErrSessionStart, identity, err)
	}

	log.Info("Session started.", zap.String("endpoint", endpoint.WebSocketURL))
	return &Session{
		ID:          id,
		Identity:    identity,
		Endpoint:    endpoint,
		logger:      log,
		driver:      driver,
		provisioner: m.provisioner,
	}, nil
}

// release stops a browser that never became a usable session. It runs even
// when ctx is already cancelled.
func (m *Manager) release(ctx context.Context, log *zap.Logger, identity string) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if err := m.provisioner.Stop(stopCtx, identity); err != nil {
		log.Warn("Failed to release browser after start failure.", zap.Error(err))
	}
}

// Page returns the driver for the session's browser.
func (s *Session) Page() surface.Driver {
	return s.driver
}

// Close detaches the driver and stops the browser. It is safe to call more
// than once; later calls return the first result.
func (s *Session) Close(ctx context.Context) error {
	s.once.Do(func() {
		var errs []error
		if err := s.driver.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to detach driver: %w", err))
		}

		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		defer cancel()
		if err := s.provisioner.Stop(stopCtx, s.Identity); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop browser: %w", err))
		}

		s.closeErr = errors.Join(errs...)
		if s.closeErr != nil {
			s.logger.Warn("Session closed with errors.", zap.Error(s.closeErr))
			return
		}
		s.logger.Info("Session closed.")
	})
	return s.closeErr
}
