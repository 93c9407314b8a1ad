package sfapex

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionOpener establishes a brand-new session.
type SessionOpener interface {
	OpenSession(ctx context.Context) (*Session, error)
}

// SessionProvider hands out sessions for Apex calls. Invalidate is called
// when the org rejects a session so that the next call re-authenticates.
type SessionProvider interface {
	Session(ctx context.Context) (*Session, error)
	Invalidate(s *Session)
}

// FreshPerCall opens a new session for every call.
type FreshPerCall struct {
	opener SessionOpener
}

func NewFreshPerCall(opener SessionOpener) *FreshPerCall {
	return &FreshPerCall{opener: opener}
}

func (p *FreshPerCall) Session(ctx context.Context) (*Session, error) {
	return p.opener.OpenSession(ctx)
}

func (p *FreshPerCall) Invalidate(*Session) {}

// CachedWithTTL reuses one session until ttl elapses or it is invalidated.
type CachedWithTTL struct {
	opener SessionOpener
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	// mu serializes re-authentication. It is never held across an Apex call.
	mu        sync.Mutex
	current   *Session
	expiresAt time.Time
}

func NewCachedWithTTL(opener SessionOpener, ttl time.Duration, logger *zap.Logger) *CachedWithTTL {
	return &CachedWithTTL{
		opener: opener,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

func (p *CachedWithTTL) Session(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil && p.now().Before(p.expiresAt) {
		s := *p.current
		s.Reused = true
		p.logger.Debug("Using cached Salesforce session",
			zap.Time("issued_at", s.IssuedAt),
			zap.Duration("remaining", p.expiresAt.Sub(p.now())))
		return &s, nil
	}

	p.logger.Info("Salesforce session expired or not available, authenticating")
	sess, err := p.opener.OpenSession(ctx)
	if err != nil {
		p.current = nil
		return nil, err
	}

	p.current = sess
	p.expiresAt = p.now().Add(p.ttl)

	s := *sess
	s.Reused = false
	return &s, nil
}

// Invalidate drops the cached session if it is still the one s was copied
// from; a session another request already replaced is left alone.
func (p *CachedWithTTL) Invalidate(s *Session) {
	if s == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil && p.current.AccessToken == s.AccessToken {
		p.current = nil
		p.expiresAt = time.Time{}
	}
}
