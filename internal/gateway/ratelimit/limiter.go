package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mrmushfiq/truecompanion-gateway/internal/shared/metrics"
)

// Capacity reports how many upstream credentials can currently serve requests
type Capacity interface {
	AvailableCount() int
}

// Config holds limiter tuning
type Config struct {
	Window         time.Duration // per-client trailing window
	MaxRequests    int           // per-client base ceiling inside Window
	BaseInterval   time.Duration // process-wide spacing with one credential
	GlobalCooldown time.Duration
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		Window:         time.Minute,
		MaxRequests:    15,
		BaseInterval:   3 * time.Second,
		GlobalCooldown: 20 * time.Second,
	}
}

// Limiter is the per-client sliding window admission control combined
// with a process-wide pacing interval and global cooldown.
type Limiter struct {
	cfg      Config
	capacity Capacity
	store    WindowStore
	logger   *zap.Logger
	nowFunc  func() time.Time

	mu              sync.Mutex
	cooldownUntil   time.Time
	lastGlobalAdmit time.Time
	reservation     uint64
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.nowFunc = now }
}

// WithStore replaces the default in-memory window store
func WithStore(s WindowStore) Option {
	return func(l *Limiter) { l.store = s }
}

// New creates a limiter
func New(cfg Config, capacity Capacity, logger *zap.Logger, opts ...Option) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Limiter{
		cfg:      cfg,
		capacity: capacity,
		store:    NewMemoryStore(),
		logger:   logger,
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit reports whether clientID may send a request now. The request is
// recorded only when admitted.
func (l *Limiter) Admit(ctx context.Context, clientID string) bool {
	available := l.capacity.AvailableCount()
	if available == 0 {
		l.reject(clientID, "no_capacity")
		return false
	}

	l.mu.Lock()
	now := l.nowFunc()
	if now.Before(l.cooldownUntil) {
		l.mu.Unlock()
		l.reject(clientID, "global_cooldown")
		return false
	}

	interval := l.cfg.BaseInterval / time.Duration(max(1, available))
	if !l.lastGlobalAdmit.IsZero() && now.Sub(l.lastGlobalAdmit) < interval {
		l.mu.Unlock()
		l.reject(clientID, "min_interval")
		return false
	}
	// hold the pacing slot while the window store is consulted
	prev := l.lastGlobalAdmit
	l.lastGlobalAdmit = now
	l.reservation++
	token := l.reservation
	l.mu.Unlock()

	limit := l.cfg.MaxRequests * max(1, available/2)
	ok, err := l.store.Admit(ctx, clientID, now, l.cfg.Window, limit)
	if err != nil {
		// Window store outage: degrade to pacing-only admission
		l.logger.Warn("rate limit window check failed, request allowed",
			zap.String("client", clientID), zap.Error(err))
		ok = true
	}
	if !ok {
		l.mu.Lock()
		if l.reservation == token {
			l.lastGlobalAdmit = prev
		}
		l.mu.Unlock()
		l.reject(clientID, "client_window")
		return false
	}

	metrics.AdmissionsTotal.WithLabelValues("admitted").Inc()
	return true
}

func (l *Limiter) reject(clientID, reason string) {
	metrics.AdmissionsTotal.WithLabelValues(reason).Inc()
	l.logger.Info("rate limit hit", zap.String("client", clientID), zap.String("reason", reason))
}

// TriggerGlobalCooldown rejects every request for the configured cooldown
func (l *Limiter) TriggerGlobalCooldown() {
	l.mu.Lock()
	l.cooldownUntil = l.nowFunc().Add(l.cfg.GlobalCooldown)
	until := l.cooldownUntil
	l.mu.Unlock()

	l.logger.Warn("global cooldown activated", zap.Time("until", until))
}

// RetryAfter is the hint returned with a rejection: the remaining global
// cooldown when one is active, otherwise the window size.
func (l *Limiter) RetryAfter() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if remaining := l.cooldownUntil.Sub(l.nowFunc()); remaining > 0 {
		return remaining
	}
	return l.cfg.Window
}
