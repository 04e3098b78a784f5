package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mrmushfiq/truecompanion-gateway/internal/gateway/failure"
	"github.com/mrmushfiq/truecompanion-gateway/internal/gateway/pool"
	"github.com/mrmushfiq/truecompanion-gateway/internal/gateway/providers"
)

type result struct {
	text string
	err  error
}

// upstream is a scripted remote shared by every credential. Once the script
// runs out the last entry repeats.
type upstream struct {
	mu     sync.Mutex
	script []result
	calls  []int
}

func (u *upstream) next(index int) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, index)
	r := u.script[0]
	if len(u.script) > 1 {
		u.script = u.script[1:]
	}
	return r.text, r.err
}

func (u *upstream) Calls() []int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]int(nil), u.calls...)
}

type fakeGenerator struct {
	index    int
	upstream *upstream
	lastReq  providers.GenerateRequest
}

func (g *fakeGenerator) Generate(_ context.Context, req providers.GenerateRequest) (string, error) {
	g.lastReq = req
	return g.upstream.next(g.index)
}

func (g *fakeGenerator) GetProviderName() string { return "fake" }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type cooldownRecorder struct{ n int }

func (r *cooldownRecorder) TriggerGlobalCooldown() { r.n++ }

type fixture struct {
	orch     *Orchestrator
	pool     *pool.Pool
	clock    *fakeClock
	upstream *upstream
	cooldown *cooldownRecorder
	sleeps   []time.Duration
	gens     []*fakeGenerator
}

func newFixture(t *testing.T, n int, script ...result) *fixture {
	t.Helper()

	f := &fixture{
		clock:    &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		upstream: &upstream{script: script},
		cooldown: &cooldownRecorder{},
	}

	labels := make([]string, n)
	gens := make([]providers.Generator, n)
	for i := range labels {
		labels[i] = fmt.Sprintf("key-%d", i+1)
		g := &fakeGenerator{index: i + 1, upstream: f.upstream}
		f.gens = append(f.gens, g)
		gens[i] = g
	}

	p, err := pool.New(labels, pool.WithClock(f.clock.Now))
	require.NoError(t, err)
	f.pool = p

	sleep := func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		f.clock.Advance(d)
		return ctx.Err()
	}

	f.orch, err = New(DefaultConfig(), p, gens, zap.NewNop(),
		WithSleep(sleep),
		WithCooldownTrigger(f.cooldown))
	require.NoError(t, err)
	return f
}

func rateLimited() result {
	return result{err: failure.New(failure.TransientRateLimit, "Resource has been exhausted")}
}

func TestNew_Validation(t *testing.T) {
	p, err := pool.New([]string{"a", "b"})
	require.NoError(t, err)

	_, err = New(DefaultConfig(), nil, nil, nil)
	assert.Error(t, err)

	_, err = New(DefaultConfig(), p, []providers.Generator{&fakeGenerator{}}, nil)
	assert.Error(t, err)
}

func TestGenerate_Success(t *testing.T) {
	f := newFixture(t, 2, result{text: "Hello there"})

	res, err := f.orch.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "Hello there", res.Text)
	assert.Equal(t, "fake", res.Provider)
	assert.Equal(t, 1, res.CredentialIndex)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, []int{1}, f.upstream.Calls())
	assert.Equal(t, []time.Duration{time.Second}, f.sleeps, "pacing delay before dispatch")

	req := f.gens[0].lastReq
	assert.Equal(t, "prompt", req.Prompt)
	assert.Equal(t, float32(0.7), req.Config.Temperature)
	assert.Equal(t, 500, req.Config.MaxOutputTokens)

	snap := f.pool.Snapshot()
	require.NotNil(t, snap[0].LastUsed)
	assert.Nil(t, snap[1].LastUsed)
}

func TestGenerate_RateLimitExhaustsRetriesOnDistinctCredentials(t *testing.T) {
	f := newFixture(t, 3, rateLimited())

	_, err := f.orch.Generate(context.Background(), "prompt")
	require.Error(t, err)

	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, failure.TransientRateLimit, fe.Kind)
	assert.Equal(t, 3, fe.Attempts)

	calls := f.upstream.Calls()
	require.Len(t, calls, 3)
	assert.ElementsMatch(t, []int{1, 2, 3}, calls, "each attempt uses a different credential")

	for _, st := range f.pool.Snapshot() {
		assert.False(t, st.Available, "credential %d", st.Index)
	}
	assert.Equal(t, 1, f.cooldown.n, "global cooldown once the pool is empty")

	// pacing, backoff, pacing, backoff, pacing: linear backoff 2s then 4s
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second,
		time.Second, 4 * time.Second,
		time.Second,
	}, f.sleeps)
}

func TestGenerate_RateLimitThenSuccess(t *testing.T) {
	f := newFixture(t, 2, rateLimited(), result{text: "ok"})

	res, err := f.orch.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.Equal(t, 2, res.Attempts)

	calls := f.upstream.Calls()
	require.Len(t, calls, 2)
	assert.NotEqual(t, calls[0], calls[1])
	assert.False(t, f.pool.IsAvailable(f.pool.At(calls[0])))
	assert.True(t, f.pool.IsAvailable(f.pool.At(calls[1])))
	assert.Zero(t, f.cooldown.n)
}

func TestGenerate_EmptyResponseThenSuccess(t *testing.T) {
	f := newFixture(t, 2, result{text: "  \n"}, result{text: "Hi!"})

	res, err := f.orch.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "Hi!", res.Text)
	assert.Len(t, f.upstream.Calls(), 2)

	for _, st := range f.pool.Snapshot() {
		assert.True(t, st.Available, "credential %d", st.Index)
		assert.Nil(t, st.UnhealthyUntil)
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, time.Second}, f.sleeps)
}

func TestGenerate_ZeroQuotaSingleCredential(t *testing.T) {
	f := newFixture(t, 1, result{err: failure.New(failure.PermanentQuota, `"quota_limit_value":"0"`)})

	_, err := f.orch.Generate(context.Background(), "prompt")
	require.Error(t, err)
	assert.Len(t, f.upstream.Calls(), 1)

	snap := f.pool.Snapshot()
	require.NotNil(t, snap[0].UnhealthyUntil)
	assert.WithinDuration(t, f.clock.Now().Add(24*time.Hour), *snap[0].UnhealthyUntil, 5*time.Second)
	assert.Equal(t, 1, f.cooldown.n)

	// first sequence ends as soon as no credential is left
	assert.Equal(t, failure.Exhausted, failure.KindOf(err))

	f.clock.Advance(time.Hour)
	_, err = f.orch.Generate(context.Background(), "prompt")
	assert.Equal(t, failure.Exhausted, failure.KindOf(err))
	assert.Len(t, f.upstream.Calls(), 1, "no remote call while the credential is out")

	f.clock.Advance(24 * time.Hour)
	f.upstream.script = []result{{text: "back"}}
	res, err := f.orch.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "back", res.Text)
}

func TestGenerate_NetworkRetriesWithoutMarking(t *testing.T) {
	netErr := failure.Wrap(failure.NetworkTransient, context.DeadlineExceeded)
	f := newFixture(t, 2, result{err: netErr})

	_, err := f.orch.Generate(context.Background(), "prompt")
	assert.Equal(t, failure.NetworkTransient, failure.KindOf(err))
	assert.Len(t, f.upstream.Calls(), 3)

	assert.Equal(t, 2, f.pool.AvailableCount())
	assert.Zero(t, f.cooldown.n)
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second,
		time.Second, 2 * time.Second,
		time.Second,
	}, f.sleeps, "fixed delay between network retries")
}

func TestGenerate_UnclassifiedIsTerminal(t *testing.T) {
	f := newFixture(t, 3, result{err: errors.New("invalid argument")})

	_, err := f.orch.Generate(context.Background(), "prompt")
	require.Error(t, err)

	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, failure.Unclassified, fe.Kind)
	assert.Equal(t, 1, fe.Attempts)
	assert.Contains(t, fe.Error(), "invalid argument")
	assert.Len(t, f.upstream.Calls(), 1)
	assert.Equal(t, 3, f.pool.AvailableCount())
}

func TestGenerate_ExhaustedWithoutCall(t *testing.T) {
	f := newFixture(t, 2, result{text: "never"})
	f.pool.MarkUnhealthy(f.pool.At(1), time.Minute)
	f.pool.MarkUnhealthy(f.pool.At(2), time.Minute)

	_, err := f.orch.Generate(context.Background(), "prompt")

	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, failure.Exhausted, fe.Kind)
	assert.Zero(t, fe.Attempts)
	assert.Empty(t, f.upstream.Calls())
	assert.Empty(t, f.sleeps)
}

func TestGenerate_ContextCanceled(t *testing.T) {
	f := newFixture(t, 1, result{text: "never"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.orch.Generate(ctx, "prompt")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.upstream.Calls())
}

func TestGenerate_CanceledDuringBackoff(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	up := &upstream{script: []result{rateLimited()}}
	p, err := pool.New([]string{"key-1", "key-2"}, pool.WithClock(clock.Now))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleep := func(ctx context.Context, d time.Duration) error {
		if d == DefaultConfig().RetryDelay {
			cancel()
		}
		return ctx.Err()
	}

	orch, err := New(DefaultConfig(), p,
		[]providers.Generator{&fakeGenerator{index: 1, upstream: up}, &fakeGenerator{index: 2, upstream: up}},
		zap.NewNop(), WithSleep(sleep))
	require.NoError(t, err)

	_, err = orch.Generate(ctx, "prompt")
	require.ErrorIs(t, err, context.Canceled)

	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 1, fe.Attempts)
	assert.Len(t, up.Calls(), 1, "no further attempt once the backoff wait is interrupted")
}

func TestGenerate_ZeroRetries(t *testing.T) {
	f := newFixture(t, 2, rateLimited())
	f.orch.cfg.MaxRetries = 0

	_, err := f.orch.Generate(context.Background(), "prompt")
	assert.Equal(t, failure.TransientRateLimit, failure.KindOf(err))
	assert.Len(t, f.upstream.Calls(), 1)
	assert.Equal(t, []time.Duration{time.Second}, f.sleeps)
}

func TestRetryBackOff(t *testing.T) {
	b := newRetryBackOff(time.Second)

	b.observe(failure.TransientRateLimit)
	assert.Equal(t, time.Second, b.NextBackOff())
	b.observe(failure.PermanentQuota)
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	b.observe(failure.NetworkTransient)
	assert.Equal(t, time.Second, b.NextBackOff(), "flat delay off the throttling path")
	b.observe(failure.TransientRateLimit)
	assert.Equal(t, 4*time.Second, b.NextBackOff(), "step keeps tracking the attempt")

	b.Reset()
	assert.Equal(t, time.Second, b.NextBackOff())
}

func TestSleepTimer(t *testing.T) {
	var slept []time.Duration
	timer := newSleepTimer(context.Background(), func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	})

	timer.Start(3 * time.Second)
	select {
	case <-timer.C():
	default:
		t.Fatal("timer did not fire after the sleep")
	}
	assert.Equal(t, []time.Duration{3 * time.Second}, slept)

	interrupted := newSleepTimer(context.Background(), func(context.Context, time.Duration) error {
		return context.Canceled
	})
	interrupted.Start(time.Second)
	select {
	case <-interrupted.C():
		t.Fatal("interrupted sleep must not fire")
	default:
	}
}
