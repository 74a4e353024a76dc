// Package tokens issues the rotating per-session attendance token and
// arbitrates its single use.
//
// Every session has at most one current token. Issuing a new one
// supersedes the previous token at once, whatever its nominal expiry.
// Consumption is decided under the session's lock, so a scan and a
// rotation racing on the same token are linearizable and concurrent scans
// of one token produce exactly one winner.
package tokens

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anuragrao04/qr-attendance-core/clock"
	"github.com/anuragrao04/qr-attendance-core/models"
	"github.com/google/uuid"
)

type SessionLookup interface {
	Session(sessionID string) (models.Session, error)
}

type Publisher interface {
	Publish(ev models.Event)
}

type Options struct {
	Clock clock.Clock
	TTL   time.Duration
	// AutoRotate replaces a lapsed token with a fresh one. Without it the
	// session has no live token until the presenter rotates.
	AutoRotate        bool
	CountdownInterval time.Duration
}

type Issuer struct {
	sessions   SessionLookup
	signer     *Signer
	publisher  Publisher
	clock      clock.Clock
	ttl        time.Duration
	tick       time.Duration
	autoRotate bool
	logger     *slog.Logger

	mu     sync.RWMutex
	states map[string]*sessionState

	byJTI  sync.Map // jti -> *issued
	byCode sync.Map // short code -> *issued
}

type issued struct {
	token    models.Token
	consumed atomic.Bool
}

func (it *issued) snapshot() models.Token {
	t := it.token
	t.Consumed = it.consumed.Load()
	return t
}

type sessionState struct {
	mu      sync.Mutex
	current *issued
	retired bool
	stop    context.CancelFunc
}

func NewIssuer(sessions SessionLookup, signer *Signer, publisher Publisher, opts Options) *Issuer {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.CountdownInterval <= 0 {
		opts.CountdownInterval = time.Second
	}
	return &Issuer{
		sessions:   sessions,
		signer:     signer,
		publisher:  publisher,
		clock:      opts.Clock,
		ttl:        opts.TTL,
		tick:       opts.CountdownInterval,
		autoRotate: opts.AutoRotate,
		logger:     slog.Default().With("module", "tokens"),
		states:     make(map[string]*sessionState),
	}
}

// IssueToken mints a new current token for an open session and starts the
// session's countdown if it is not already running.
func (i *Issuer) IssueToken(sessionID string) (models.Token, error) {
	sess, err := i.sessions.Session(sessionID)
	if err != nil {
		return models.Token{}, err
	}
	if !sess.IsOpen() {
		return models.Token{}, models.ErrSessionClosed
	}

	st := i.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.retired {
		return models.Token{}, models.ErrSessionClosed
	}

	it, err := i.issueLocked(sessionID, st)
	if err != nil {
		return models.Token{}, err
	}
	if st.stop == nil {
		ctx, cancel := context.WithCancel(context.Background())
		st.stop = cancel
		go i.countdown(ctx, sessionID, st)
	}
	return it.snapshot(), nil
}

// RotateToken is IssueToken requested explicitly by the presenter.
func (i *Issuer) RotateToken(sessionID string) (models.Token, error) {
	return i.IssueToken(sessionID)
}

// CurrentToken returns the live token so a late subscriber can render it
// without waiting for the next rotation.
func (i *Issuer) CurrentToken(sessionID string) (models.Token, error) {
	if _, err := i.sessions.Session(sessionID); err != nil {
		return models.Token{}, err
	}
	st := i.lookup(sessionID)
	if st == nil {
		return models.Token{}, models.ErrNoToken
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.retired || st.current == nil || i.clock.Now().After(st.current.token.ExpiresAt) {
		return models.Token{}, models.ErrNoToken
	}
	return st.current.snapshot(), nil
}

// Resolve maps a presented token to the issuance it names. It does not
// judge currency or expiry; Consume does.
func (i *Issuer) Resolve(p Presented) (models.Token, error) {
	switch p.Form {
	case FormSigned:
		claims, err := i.signer.verify(p.Value)
		if err != nil {
			return models.Token{}, &models.Error{Code: models.CodeInvalidFormat, Message: "signed token failed verification"}
		}
		if v, ok := i.byJTI.Load(claims.JTI); ok {
			it := v.(*issued)
			if it.token.SessionID != claims.SessionID {
				return models.Token{}, models.ErrInvalidFormat
			}
			return it.snapshot(), nil
		}
		// Already garbage-collected: the claims still name the session,
		// and Consume will report it as expired.
		return models.Token{
			JTI:       claims.JTI,
			SessionID: claims.SessionID,
			Signed:    p.Value,
			IssuedAt:  claims.IssuedAt,
			ExpiresAt: claims.ExpiresAt,
		}, nil
	case FormShort:
		if v, ok := i.byCode.Load(p.Value); ok {
			return v.(*issued).snapshot(), nil
		}
		return models.Token{}, &models.Error{Code: models.CodeInvalidFormat, Message: "unknown code"}
	default:
		return models.Token{}, models.ErrInvalidFormat
	}
}

// Consume marks t used if, and only if, it is still its session's current
// unexpired token and nobody consumed it first.
func (i *Issuer) Consume(t models.Token) error {
	st := i.lookup(t.SessionID)
	if st == nil {
		return models.ErrExpiredCode
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.retired {
		return models.ErrSessionClosed
	}
	cur := st.current
	if cur == nil || cur.token.JTI != t.JTI {
		return &models.Error{Code: models.CodeExpiredCode, Message: "code was superseded by a newer one"}
	}
	if i.clock.Now().After(cur.token.ExpiresAt) {
		return models.ErrExpiredCode
	}
	if !cur.consumed.CompareAndSwap(false, true) {
		return models.ErrAlreadyUsed
	}
	return nil
}

// Retire is registered as a session close hook. It stops the countdown and
// leaves the session without a current token.
func (i *Issuer) Retire(sess models.Session) {
	// state, not lookup: an IssueToken racing with the close must find the
	// session already retired.
	st := i.state(sess.ID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.retired = true
	st.current = nil
	if st.stop != nil {
		st.stop()
	}
}

// Forget drops everything held for an evicted session.
func (i *Issuer) Forget(sessionID string) {
	i.mu.Lock()
	st := i.states[sessionID]
	delete(i.states, sessionID)
	i.mu.Unlock()
	if st != nil {
		st.mu.Lock()
		if st.stop != nil {
			st.stop()
		}
		st.mu.Unlock()
	}

	i.byJTI.Range(func(key, value any) bool {
		it := value.(*issued)
		if it.token.SessionID == sessionID {
			i.byJTI.CompareAndDelete(key, it)
			i.byCode.CompareAndDelete(it.token.ShortCode, it)
		}
		return true
	})
}

func (i *Issuer) issueLocked(sessionID string, st *sessionState) (*issued, error) {
	it, err := i.mint(sessionID)
	if err != nil {
		return nil, err
	}
	st.current = it

	// Both events go out under the session lock so viewers never see a
	// stale token_issued after a newer one.
	i.publisher.Publish(models.Event{
		Type:      models.EventTokenIssued,
		SessionID: sessionID,
		At:        it.token.IssuedAt,
		Data: models.TokenIssued{
			JTI:       it.token.JTI,
			Code:      it.token.ShortCode,
			Token:     it.token.Signed,
			ExpiresAt: it.token.ExpiresAt,
		},
	})
	i.publisher.Publish(models.Event{
		Type:      models.EventCountdown,
		SessionID: sessionID,
		At:        it.token.IssuedAt,
		Data:      models.Countdown{SecondsRemaining: it.token.SecondsRemaining(it.token.IssuedAt)},
	})
	i.logger.Debug("issued token", "session_id", sessionID, "jti", it.token.JTI)
	return it, nil
}

func (i *Issuer) mint(sessionID string) (*issued, error) {
	now := i.clock.Now()
	for {
		code, err := newShortCode()
		if err != nil {
			return nil, err
		}
		it := &issued{token: models.Token{
			JTI:       uuid.NewString(),
			SessionID: sessionID,
			ShortCode: code,
			IssuedAt:  now,
			ExpiresAt: now.Add(i.ttl),
		}}
		signed, err := i.signer.Sign(it.token)
		if err != nil {
			return nil, err
		}
		it.token.Signed = signed

		if _, taken := i.byCode.LoadOrStore(code, it); taken {
			continue
		}
		i.byJTI.Store(it.token.JTI, it)
		// Kept one extra TTL after expiry so late scans still resolve and
		// are told the code expired rather than that it is unknown.
		i.clock.AfterFunc(2*i.ttl, func() {
			i.byJTI.CompareAndDelete(it.token.JTI, it)
			i.byCode.CompareAndDelete(it.token.ShortCode, it)
		})
		return it, nil
	}
}

func (i *Issuer) countdown(ctx context.Context, sessionID string, st *sessionState) {
	ticker := i.clock.NewTicker(i.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			i.tickOnce(sessionID, st)
		}
	}
}

func (i *Issuer) tickOnce(sessionID string, st *sessionState) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.retired || st.current == nil {
		return
	}

	now := i.clock.Now()
	if now.Before(st.current.token.ExpiresAt) {
		i.publisher.Publish(models.Event{
			Type:      models.EventCountdown,
			SessionID: sessionID,
			At:        now,
			Data:      models.Countdown{SecondsRemaining: st.current.token.SecondsRemaining(now)},
		})
		return
	}

	if i.autoRotate {
		if _, err := i.issueLocked(sessionID, st); err != nil {
			i.logger.Error("auto-rotate failed", "session_id", sessionID, "error", err)
		}
		return
	}
	i.logger.Debug("token lapsed", "session_id", sessionID, "jti", st.current.token.JTI)
	st.current = nil
	i.publisher.Publish(models.Event{
		Type:      models.EventCountdown,
		SessionID: sessionID,
		At:        now,
		Data:      models.Countdown{SecondsRemaining: 0},
	})
}

func (i *Issuer) state(sessionID string) *sessionState {
	i.mu.Lock()
	defer i.mu.Unlock()
	st, ok := i.states[sessionID]
	if !ok {
		st = &sessionState{}
		i.states[sessionID] = st
	}
	return st
}

func (i *Issuer) lookup(sessionID string) *sessionState {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.states[sessionID]
}
