package panel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"realityshop/internal/config"
	"realityshop/internal/metrics"
)

// ServerHandle owns the panel session of one server. Operations share the
// session under the read lock; a login replaces it under the write lock, so no
// operation is ever in flight on a session that is being swapped.
type ServerHandle struct {
	desc    config.ServerDescriptor
	api     PanelClient
	timeout time.Duration
	logger  *zap.Logger

	mu         sync.RWMutex
	generation uint64
	loggedIn   bool
	lastErr    error
}

func NewServerHandle(desc config.ServerDescriptor, api PanelClient, timeout time.Duration, logger *zap.Logger) *ServerHandle {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ServerHandle{
		desc:    desc,
		api:     api,
		timeout: timeout,
		logger:  logger.With(zap.String("server", desc.ID)),
	}
}

// Descriptor returns the static server description.
func (h *ServerHandle) Descriptor() config.ServerDescriptor {
	return h.desc
}

// Available reports whether the last login succeeded.
func (h *ServerHandle) Available() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.loggedIn
}

// Login forces a fresh session.
func (h *ServerHandle) Login(ctx context.Context) error {
	h.mu.RLock()
	gen := h.generation
	h.mu.RUnlock()
	return h.refresh(ctx, gen, true)
}

// refresh logs in unless another caller already replaced generation seen.
func (h *ServerHandle) refresh(ctx context.Context, seen uint64, force bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !force && h.loggedIn && h.generation != seen {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	err := h.api.Authenticate(ctx)
	metrics.IncPanelLogin(h.desc.ID, err == nil)
	if err != nil {
		h.loggedIn = false
		h.lastErr = err
		h.logger.Warn("Panel login failed", zap.Error(err))
		return fmt.Errorf("%w: %s: login: %w", ErrServerUnavailable, h.desc.ID, err)
	}
	h.generation++
	h.loggedIn = true
	h.lastErr = nil
	h.logger.Info("Panel session established", zap.Uint64("generation", h.generation))
	return nil
}

// do runs fn on the current session. A session the panel no longer accepts is
// refreshed once and fn retried once.
func (h *ServerHandle) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	h.mu.RLock()
	gen, loggedIn := h.generation, h.loggedIn
	h.mu.RUnlock()

	if !loggedIn {
		if err := h.refresh(ctx, gen, false); err != nil {
			metrics.IncPanelRequest(h.desc.ID, op, false)
			return err
		}
		h.mu.RLock()
		gen = h.generation
		h.mu.RUnlock()
	}

	err := h.run(ctx, fn)
	if errors.Is(err, ErrSessionExpired) {
		h.logger.Info("Panel session expired, logging in again", zap.String("op", op))
		if rerr := h.refresh(ctx, gen, false); rerr != nil {
			metrics.IncPanelRequest(h.desc.ID, op, false)
			return rerr
		}
		err = h.run(ctx, fn)
	}

	metrics.IncPanelRequest(h.desc.ID, op, err == nil)
	return h.classify(op, err)
}

func (h *ServerHandle) run(ctx context.Context, fn func(ctx context.Context) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return fn(ctx)
}

func (h *ServerHandle) classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRejected), errors.Is(err, ErrClientNotFound):
		return fmt.Errorf("%s %s: %w", h.desc.ID, op, err)
	default:
		// Transport failures, timeouts and a session still refused after re-login.
		return fmt.Errorf("%w: %s %s: %w", ErrServerUnavailable, h.desc.ID, op, err)
	}
}

// inbound fetches the configured inbound through the session.
func (h *ServerHandle) inbound(ctx context.Context) (*Inbound, error) {
	var in *Inbound
	err := h.do(ctx, "get_inbound", func(ctx context.Context) error {
		var err error
		in, err = h.api.GetInbound(ctx, h.desc.InboundID)
		return err
	})
	return in, err
}
