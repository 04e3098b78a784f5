package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/mrmushfiq/truecompanion-gateway/internal/gateway/failure"
	"github.com/mrmushfiq/truecompanion-gateway/internal/gateway/pool"
	"github.com/mrmushfiq/truecompanion-gateway/internal/gateway/providers"
	"github.com/mrmushfiq/truecompanion-gateway/internal/shared/metrics"
)

// CooldownTrigger sheds load when the whole pool is exhausted
type CooldownTrigger interface {
	TriggerGlobalCooldown()
}

// Config holds retry and health tuning
type Config struct {
	MaxRetries    int
	RetryDelay    time.Duration // base for linear backoff, fixed delay for network failures
	PacingDelay   time.Duration // wait before every dispatch
	ShortCooldown time.Duration // credential timeout after a throttling signal
	LongCooldown  time.Duration // credential timeout after a zero-quota signal
	CallTimeout   time.Duration
	Generation    providers.GenerationConfig
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		MaxRetries:    2,
		RetryDelay:    2 * time.Second,
		PacingDelay:   time.Second,
		ShortCooldown: 2 * time.Minute,
		LongCooldown:  24 * time.Hour,
		CallTimeout:   30 * time.Second,
		Generation:    providers.GenerationConfig{Temperature: 0.7, MaxOutputTokens: 500},
	}
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Orchestrator produces text for a prompt across a pool of credentials
type Orchestrator struct {
	cfg        Config
	pool       *pool.Pool
	generators []providers.Generator
	cooldown   CooldownTrigger
	logger     *zap.Logger
	sleep      SleepFunc
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithSleep replaces the real-time sleep used for pacing and backoff
func WithSleep(s SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = s }
}

// WithCooldownTrigger registers the limiter to notify on pool exhaustion
func WithCooldownTrigger(t CooldownTrigger) Option {
	return func(o *Orchestrator) { o.cooldown = t }
}

// New creates an orchestrator. generators[i] serves the pool credential with Index i+1.
func New(cfg Config, p *pool.Pool, generators []providers.Generator, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if p == nil {
		return nil, fmt.Errorf("orchestrator: pool is required")
	}
	if len(generators) != p.Len() {
		return nil, fmt.Errorf("orchestrator: pool size (%d) must match generator count (%d)", p.Len(), len(generators))
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		cfg:        cfg,
		pool:       p,
		generators: generators,
		logger:     logger,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Result is a successful generation
type Result struct {
	Text            string
	Provider        string
	CredentialIndex int
	Attempts        int
}

// Generate returns generated text or a *failure.Error
func (o *Orchestrator) Generate(ctx context.Context, prompt string) (*Result, error) {
	start := time.Now()
	res, err := o.generate(ctx, prompt)

	outcome := "success"
	if err != nil {
		outcome = failure.KindOf(err).String()
	}
	metrics.GenerationDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return res, err
}

func (o *Orchestrator) generate(ctx context.Context, prompt string) (*Result, error) {
	policy := newRetryBackOff(o.cfg.RetryDelay)
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(max(0, o.cfg.MaxRetries))), ctx)

	var (
		excluding *pool.Credential
		last      *failure.Error
		res       *Result
		attempt   int
	)

	operation := func() error {
		cred := o.pool.SelectAvailable(excluding)
		metrics.CredentialsAvailable.Set(float64(o.pool.AvailableCount()))
		if cred == nil {
			fe := failure.New(failure.Exhausted, "All API keys are currently rate limited. Please try again in a moment.")
			fe.Attempts = attempt
			if last != nil {
				fe.Err = last
			}
			o.logger.Warn("no credential available", zap.Int("attempt", attempt+1))
			return backoff.Permanent(fe)
		}
		attempt++

		gen := o.generators[cred.Index-1]
		o.logger.Debug("using API instance",
			zap.Int("key_index", cred.Index),
			zap.Int("pool_size", o.pool.Len()),
			zap.Int("attempt", attempt))

		if err := o.sleep(ctx, o.cfg.PacingDelay); err != nil {
			return backoff.Permanent(o.canceled(err, attempt-1))
		}

		text, err := o.call(ctx, gen, prompt)
		if err == nil {
			if strings.TrimSpace(text) != "" {
				if o.pool.RecordSuccess(cred) {
					o.logger.Info("API instance back online", zap.Int("key_index", cred.Index))
				}
				metrics.GenerationAttemptsTotal.WithLabelValues(gen.GetProviderName(), "success").Inc()
				o.logger.Info("successful response", zap.Int("key_index", cred.Index), zap.Int("attempt", attempt))
				res = &Result{
					Text:            text,
					Provider:        gen.GetProviderName(),
					CredentialIndex: cred.Index,
					Attempts:        attempt,
				}
				return nil
			}
			err = failure.New(failure.EmptyResponse, "Empty response received from API")
		}

		kind := failure.KindOf(err)
		last = asFailure(err, kind)
		last.Attempts = attempt
		metrics.GenerationAttemptsTotal.WithLabelValues(gen.GetProviderName(), kind.String()).Inc()
		o.logger.Warn("generation attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("key_index", cred.Index),
			zap.Stringer("kind", kind),
			zap.Error(err))

		if ctx.Err() != nil {
			return backoff.Permanent(o.canceled(ctx.Err(), attempt))
		}
		if !kind.Retryable() {
			return backoff.Permanent(last)
		}
		if kind == failure.TransientRateLimit || kind == failure.PermanentQuota {
			o.markUnhealthy(cred, kind)
		}

		policy.observe(kind)
		excluding = cred
		return last
	}

	notify := func(_ error, delay time.Duration) {
		o.logger.Info("retrying",
			zap.Duration("delay", delay),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", o.cfg.MaxRetries))
	}

	err := backoff.RetryNotifyWithTimer(operation, b, notify, newSleepTimer(ctx, o.sleep))
	if err == nil {
		return res, nil
	}
	var fe *failure.Error
	if errors.As(err, &fe) {
		return nil, fe
	}
	// context ended between attempts
	return nil, o.canceled(err, attempt)
}

// call dispatches one request bounded by the per-call timeout
func (o *Orchestrator) call(ctx context.Context, gen providers.Generator, prompt string) (string, error) {
	if o.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.CallTimeout)
		defer cancel()
	}
	return gen.Generate(ctx, providers.GenerateRequest{Prompt: prompt, Config: o.cfg.Generation})
}

func (o *Orchestrator) markUnhealthy(cred *pool.Credential, kind failure.Kind) {
	d := o.cfg.ShortCooldown
	if kind == failure.PermanentQuota {
		d = o.cfg.LongCooldown
	}
	until := o.pool.MarkUnhealthy(cred, d)
	metrics.CredentialsUnhealthyTotal.WithLabelValues(kind.String()).Inc()
	o.logger.Warn("API instance marked unhealthy",
		zap.Int("key_index", cred.Index),
		zap.Stringer("kind", kind),
		zap.Duration("duration", d),
		zap.Time("until", until))

	if o.pool.AvailableCount() == 0 && o.cooldown != nil {
		o.cooldown.TriggerGlobalCooldown()
	}
}

func (o *Orchestrator) canceled(err error, attempts int) *failure.Error {
	fe := failure.Wrap(failure.Unclassified, fmt.Errorf("generation canceled: %w", err))
	fe.Attempts = attempts
	return fe
}

func asFailure(err error, kind failure.Kind) *failure.Error {
	if fe, ok := err.(*failure.Error); ok {
		return fe
	}
	return failure.Wrap(kind, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
