package pool

import (
	"fmt"
	"sync"
	"time"
)

// Credential is one upstream key with its time-derived health state.
// Fields are owned by the Pool; read them through Pool methods.
type Credential struct {
	Index int    // 1-based position in the pool
	Label string // masked key, safe to log

	lastUsed       time.Time
	unhealthyUntil time.Time
}

// CredentialStatus is a read-only view of a credential
type CredentialStatus struct {
	Index          int        `json:"index"`
	Label          string     `json:"label"`
	Available      bool       `json:"available"`
	LastUsed       *time.Time `json:"lastUsed,omitempty"`
	UnhealthyUntil *time.Time `json:"unhealthyUntil,omitempty"`
}

// Pool holds a fixed set of interchangeable credentials
type Pool struct {
	mu            sync.Mutex
	creds         []*Credential
	rotationDelay time.Duration
	nowFunc       func() time.Time
}

// Option configures a Pool
type Option func(*Pool)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.nowFunc = now }
}

// WithRotationDelay sets the minimum spacing between uses of one credential
func WithRotationDelay(d time.Duration) Option {
	return func(p *Pool) { p.rotationDelay = d }
}

// New creates a pool with one credential per label
func New(labels []string, opts ...Option) (*Pool, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("credential pool: at least one credential is required")
	}

	p := &Pool{
		creds:         make([]*Credential, len(labels)),
		rotationDelay: 1500 * time.Millisecond,
		nowFunc:       time.Now,
	}
	for i, label := range labels {
		p.creds[i] = &Credential{Index: i + 1, Label: label}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Len returns the pool size
func (p *Pool) Len() int {
	return len(p.creds)
}

// At returns the credential with the given 1-based index
func (p *Pool) At(index int) *Credential {
	if index < 1 || index > len(p.creds) {
		return nil
	}
	return p.creds[index-1]
}

// available must be called with p.mu held
func (c *Credential) available(now time.Time) bool {
	return !now.Before(c.unhealthyUntil)
}

// IsAvailable reports whether the credential can be selected right now
func (p *Pool) IsAvailable(c *Credential) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return c.available(p.nowFunc())
}

// AvailableCount returns the number of credentials that are currently healthy
func (p *Pool) AvailableCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.nowFunc()
	count := 0
	for _, c := range p.creds {
		if c.available(now) {
			count++
		}
	}
	return count
}

// MarkUnhealthy takes the credential out of rotation for d
func (p *Pool) MarkUnhealthy(c *Credential, d time.Duration) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	c.unhealthyUntil = p.nowFunc().Add(d)
	return c.unhealthyUntil
}

// RecordSuccess stamps lastUsed and clears an elapsed unhealthy window.
// It returns true when the credential came back online.
func (p *Pool) RecordSuccess(c *Credential) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.nowFunc()
	c.lastUsed = now
	if !c.unhealthyUntil.IsZero() && c.available(now) {
		c.unhealthyUntil = time.Time{}
		return true
	}
	return false
}

// Snapshot returns the status of every credential in pool order
func (p *Pool) Snapshot() []CredentialStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.nowFunc()
	out := make([]CredentialStatus, 0, len(p.creds))
	for _, c := range p.creds {
		st := CredentialStatus{
			Index:     c.Index,
			Label:     c.Label,
			Available: c.available(now),
		}
		if !c.lastUsed.IsZero() {
			t := c.lastUsed
			st.LastUsed = &t
		}
		if now.Before(c.unhealthyUntil) {
			t := c.unhealthyUntil
			st.UnhealthyUntil = &t
		}
		out = append(out, st)
	}
	return out
}
