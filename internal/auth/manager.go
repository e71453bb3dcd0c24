package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"log/slog"
)

// State identifies where the session manager is in the sign-in lifecycle.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StatePendingRedirect State = "pending_redirect"
	StateVerifying       State = "verifying"
	StateAuthenticated   State = "authenticated"
	StateAccessDenied    State = "access_denied"
	StateExpired         State = "expired"
)

// EventKind distinguishes policy denials from transient auth failures.
type EventKind string

const (
	EventAccessDenied EventKind = "access_denied"
	EventAuthError    EventKind = "auth_error"
)

// Event is a fire-and-observe auth signal. Denial events always carry the
// rejected email; error events carry only a message.
type Event struct {
	Kind    EventKind `json:"kind"`
	Email   string    `json:"correo,omitempty"`
	Message string    `json:"message"`
}

// ErrSessionActive is returned by BeginAuthorization while a valid session
// is already held.
var ErrSessionActive = errors.New("a session is already active")

// ErrFlowInProgress is returned when an authorization flow is already being
// verified; callers should wait rather than start a second redirect.
var ErrFlowInProgress = errors.New("an authorization flow is already in progress")

// ManagerConfig wires a Manager's collaborators.
type ManagerConfig struct {
	Provider      Provider
	Store         Store
	Registry      Registry // nil disables the membership check
	ClientID      string
	AllowedDomain string
	Logger        *slog.Logger
	// RetryDelay is the pause after ClearAndRetry clears state, letting the
	// storage clear settle before the flow re-reads it. Defaults to 100ms.
	RetryDelay time.Duration
}

// Manager owns the OAuth2 authorization-code session: token lifecycle,
// identity verification, domain and registry policy, persisted state, and
// observer notification. It holds at most one active session.
//
// Every transition that changes token or identity state persists to the
// store before observers are notified, so a restart mid-flow resumes from
// the last durable state. Network calls run without the internal lock held;
// results resolving after a SignOut or ClearAndRetry are discarded via a
// generation counter so a slow response cannot resurrect a cleared session.
type Manager struct {
	provider   Provider
	store      Store
	registry   Registry
	clientID   string
	domain     string
	logger     *slog.Logger
	retryDelay time.Duration
	now        func() time.Time

	mu             sync.Mutex
	state          State
	token          *Token
	identity       *Identity
	lastDenial     *Event
	generation     uint64
	initialized    bool
	observers      []*identityObserver
	eventObservers []*eventObserver
}

type identityObserver struct {
	fn func(*Identity)
}

type eventObserver struct {
	fn func(Event)
}

// NewManager creates a Manager. Provider and Store are required.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retryDelay := cfg.RetryDelay
	if retryDelay == 0 {
		retryDelay = 100 * time.Millisecond
	}
	return &Manager{
		provider:   cfg.Provider,
		store:      cfg.Store,
		registry:   cfg.Registry,
		clientID:   cfg.ClientID,
		domain:     strings.ToLower(strings.TrimSpace(cfg.AllowedDomain)),
		logger:     logger,
		retryDelay: retryDelay,
		now:        time.Now,
		state:      StateUnauthenticated,
	}
}

// Initialize reads persisted state and either resumes the session, picks up
// a stashed authorization code, or leaves the manager awaiting the redirect
// flow. It is idempotent: calls after the first are no-ops.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return nil
	}
	m.initialized = true
	m.mu.Unlock()

	return m.resume(ctx)
}

// resume drives the manager from whatever the store holds.
func (m *Manager) resume(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateVerifying {
		m.mu.Unlock()
		return nil
	}
	gen := m.generation
	m.mu.Unlock()

	session, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Warn("persisted session unreadable, starting fresh", "error", err)
		session = nil
	}

	if session == nil {
		code, err := m.store.TakePendingCode(ctx)
		if err != nil {
			m.logger.Warn("pending code unreadable", "error", err)
		}
		if code != "" {
			return m.completeAuthorization(ctx, gen, code)
		}
		return nil
	}

	return m.verify(ctx, gen, session.Token)
}

// BeginAuthorization enters the redirect flow and returns the provider
// consent URL for the given CSRF state. The caller performs the actual
// user-agent redirect.
func (m *Manager) BeginAuthorization(state string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateAuthenticated:
		return "", ErrSessionActive
	case StateVerifying:
		return "", ErrFlowInProgress
	}
	m.state = StatePendingRedirect
	return m.provider.AuthCodeURL(state), nil
}

// CompleteAuthorization exchanges the authorization code returned by the
// provider and verifies the resulting session. A second call while a flow is
// already verifying is a no-op.
func (m *Manager) CompleteAuthorization(ctx context.Context, code string) error {
	m.mu.Lock()
	if m.state == StateVerifying {
		m.mu.Unlock()
		return nil
	}
	gen := m.generation
	m.mu.Unlock()

	return m.completeAuthorization(ctx, gen, code)
}

// StashAuthorizationCode stores a code received by a separate callback page
// for the main flow to consume exactly once.
func (m *Manager) StashAuthorizationCode(ctx context.Context, code string) error {
	return m.store.SavePendingCode(ctx, code)
}

func (m *Manager) completeAuthorization(ctx context.Context, gen uint64, code string) error {
	if !m.enterVerifying(gen) {
		return nil
	}

	token, err := m.provider.Exchange(ctx, code)
	if err != nil {
		m.clearAndReport(ctx, gen, "authorization could not be completed, please try again")
		return fmt.Errorf("exchange authorization code: %w", err)
	}

	if !m.stillCurrent(gen) {
		return nil
	}
	// Persist before verification so a restart mid-flow resumes here instead
	// of sending the user back through the consent screen.
	if err := m.store.Save(ctx, StoredSession{Token: *token}); err != nil {
		m.logger.Warn("persist exchanged token", "error", err)
	}

	return m.verifyLocked(ctx, gen, *token)
}

// verify enters the Verifying state and runs the full verification pipeline.
func (m *Manager) verify(ctx context.Context, gen uint64, token Token) error {
	if !m.enterVerifying(gen) {
		return nil
	}
	return m.verifyLocked(ctx, gen, token)
}

// verifyLocked runs verification assuming the Verifying state is already
// held: expiry, issuer token-info, audience, domain policy, registry policy.
// Any failure fully rolls back to no-identity before it is reported.
func (m *Manager) verifyLocked(ctx context.Context, gen uint64, token Token) error {
	if token.Expired(m.now()) {
		m.expireSession(ctx, gen)
		return nil
	}

	if token.IDToken == "" {
		m.clearAndReport(ctx, gen, "session has no identity assertion, please sign in again")
		return nil
	}

	claims, err := m.provider.TokenInfo(ctx, token.IDToken)
	if err != nil {
		if errors.Is(err, ErrTokenRejected) {
			m.expireSession(ctx, gen)
			return nil
		}
		m.clearAndReport(ctx, gen, "could not verify the session with the identity provider")
		return fmt.Errorf("verify token: %w", err)
	}

	if claims.Aud != m.clientID {
		m.logger.Warn("token audience mismatch", "aud", claims.Aud)
		m.clearAndReport(ctx, gen, "token was not issued for this application")
		return nil
	}

	if !strings.EqualFold(claims.HostedDom, m.domain) {
		m.denyAccess(ctx, gen, claims.Email)
		return nil
	}

	var registration *Registration
	if m.registry != nil {
		registration, err = m.registry.Lookup(ctx, claims.Email)
		if err != nil {
			m.logger.Warn("registry lookup failed", "error", err, "email", claims.Email)
		}
		if registration == nil {
			m.denyAccess(ctx, gen, claims.Email)
			return nil
		}
	}

	identity := identityFromClaims(claims, registration)

	if !m.stillCurrent(gen) {
		return nil
	}
	if err := m.store.Save(ctx, StoredSession{Token: token, Identity: identity}); err != nil {
		m.logger.Warn("persist session", "error", err)
	}

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return nil
	}
	tokenCopy := token
	m.token = &tokenCopy
	m.identity = identity
	m.state = StateAuthenticated
	m.lastDenial = nil
	m.mu.Unlock()

	m.logger.Info("session authenticated", "email", identity.Email)
	m.notifyIdentity(identity)
	return nil
}

// CurrentIdentity returns the authenticated identity, recovering it from the
// store when the in-memory cache is cold. It has no side effects beyond that
// cache refresh; expired or absent sessions simply yield nil.
func (m *Manager) CurrentIdentity(ctx context.Context) *Identity {
	m.mu.Lock()
	if m.identity != nil && m.token != nil {
		if m.token.Expired(m.now()) {
			m.mu.Unlock()
			return nil
		}
		copied := *m.identity
		m.mu.Unlock()
		return &copied
	}
	m.mu.Unlock()

	session, err := m.store.Load(ctx)
	if err != nil || session == nil || session.Identity == nil {
		return nil
	}

	now := m.now()
	if session.Token.HasLocalExpiry() {
		if session.Token.Expired(now) {
			return nil
		}
	} else if !idTokenStillValid(session.Token.IDToken, now) {
		return nil
	}

	m.mu.Lock()
	if m.identity == nil {
		tokenCopy := session.Token
		m.token = &tokenCopy
		m.identity = session.Identity
		m.state = StateAuthenticated
	}
	copied := *session.Identity
	m.mu.Unlock()
	return &copied
}

// IsTokenExpired reports whether the current token is expired. When the
// token carries a local expiry the check is purely local; otherwise the
// issuer is consulted and any failure counts as expired.
func (m *Manager) IsTokenExpired(ctx context.Context) bool {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()

	if token == nil {
		if session, err := m.store.Load(ctx); err == nil && session != nil {
			tokenCopy := session.Token
			token = &tokenCopy
		}
	}
	if token == nil {
		return true
	}

	if token.HasLocalExpiry() {
		return m.now().Unix() >= token.ExpiresAt
	}
	if token.IDToken == "" {
		return true
	}
	if _, err := m.provider.TokenInfo(ctx, token.IDToken); err != nil {
		return true
	}
	return false
}

// SignOut revokes the token best-effort, clears all persisted and in-memory
// state, and notifies observers with no identity. It always succeeds locally
// even when remote revocation fails.
func (m *Manager) SignOut(ctx context.Context) {
	m.mu.Lock()
	m.generation++
	token := m.token
	m.token = nil
	m.identity = nil
	m.lastDenial = nil
	m.state = StateUnauthenticated
	m.mu.Unlock()

	if token == nil {
		if session, err := m.store.Load(ctx); err == nil && session != nil {
			tokenCopy := session.Token
			token = &tokenCopy
		}
	}
	if token != nil && token.AccessToken != "" {
		if err := m.provider.Revoke(ctx, token.AccessToken); err != nil {
			m.logger.Warn("token revocation failed", "error", err)
		}
	}

	if err := m.store.Clear(ctx); err != nil {
		m.logger.Warn("clear persisted session", "error", err)
	}

	m.logger.Info("signed out")
	m.notifyIdentity(nil)
}

// ClearAndRetry forces a full reset then restarts the flow, recovering from
// a wedged access-denied state so the user can pick a different account.
// Any in-flight verification is invalidated.
func (m *Manager) ClearAndRetry(ctx context.Context) {
	m.mu.Lock()
	m.generation++
	token := m.token
	m.token = nil
	m.identity = nil
	m.lastDenial = nil
	m.state = StateUnauthenticated
	m.mu.Unlock()

	if token == nil {
		if session, err := m.store.Load(ctx); err == nil && session != nil {
			tokenCopy := session.Token
			token = &tokenCopy
		}
	}

	if err := m.store.Clear(ctx); err != nil {
		m.logger.Warn("clear persisted session", "error", err)
	}
	m.notifyIdentity(nil)

	if token != nil && token.AccessToken != "" {
		if err := m.provider.Revoke(ctx, token.AccessToken); err != nil {
			m.logger.Warn("token revocation failed", "error", err)
		}
	}

	// Let the storage clear settle before the flow re-reads it.
	select {
	case <-ctx.Done():
		return
	case <-time.After(m.retryDelay):
	}

	if err := m.resume(ctx); err != nil {
		m.logger.Warn("retry after reset failed", "error", err)
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastDenial returns the most recent access-denied event, or nil. It is
// cleared on successful authentication and on any reset.
func (m *Manager) LastDenial() *Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastDenial == nil {
		return nil
	}
	copied := *m.lastDenial
	return &copied
}

// Subscribe registers an observer for identity changes. The observer is
// invoked exactly once immediately with the identity current at subscription
// time, then once per subsequent change. The returned function unsubscribes.
func (m *Manager) Subscribe(fn func(*Identity)) func() {
	obs := &identityObserver{fn: fn}

	m.mu.Lock()
	m.observers = append(m.observers, obs)
	var current *Identity
	if m.identity != nil {
		copied := *m.identity
		current = &copied
	}
	m.mu.Unlock()

	fn(current)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, o := range m.observers {
			if o == obs {
				m.observers = append(m.observers[:i], m.observers[i+1:]...)
				return
			}
		}
	}
}

// SubscribeEvents registers an observer for denial and error events.
func (m *Manager) SubscribeEvents(fn func(Event)) func() {
	obs := &eventObserver{fn: fn}

	m.mu.Lock()
	m.eventObservers = append(m.eventObservers, obs)
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, o := range m.eventObservers {
			if o == obs {
				m.eventObservers = append(m.eventObservers[:i], m.eventObservers[i+1:]...)
				return
			}
		}
	}
}

// enterVerifying moves to the Verifying state, refusing when the generation
// went stale.
func (m *Manager) enterVerifying(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		return false
	}
	m.state = StateVerifying
	return true
}

func (m *Manager) stillCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation == gen
}

// expireSession clears a session whose token the issuer no longer honors.
// Expiry is routine, not an error: no error event is raised and the next
// login request re-enters the redirect flow.
func (m *Manager) expireSession(ctx context.Context, gen uint64) {
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Warn("clear expired session", "error", err)
	}

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	m.token = nil
	m.identity = nil
	m.state = StateExpired
	m.mu.Unlock()

	m.logger.Info("session expired")
	m.notifyIdentity(nil)
}

// clearAndReport rolls back to no-identity and raises a generic auth error.
func (m *Manager) clearAndReport(ctx context.Context, gen uint64, message string) {
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Warn("clear session after failure", "error", err)
	}

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	m.token = nil
	m.identity = nil
	m.state = StateUnauthenticated
	m.mu.Unlock()

	m.notifyIdentity(nil)
	m.notifyEvent(Event{Kind: EventAuthError, Message: message})
}

// denyAccess clears partial state and raises a denial carrying the rejected
// email. Policy denials are never merged with generic errors.
func (m *Manager) denyAccess(ctx context.Context, gen uint64, email string) {
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Warn("clear session after denial", "error", err)
	}

	event := Event{
		Kind:    EventAccessDenied,
		Email:   email,
		Message: fmt.Sprintf("access denied for %s: only @%s accounts may use this console", email, m.domain),
	}

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	m.token = nil
	m.identity = nil
	m.state = StateAccessDenied
	m.lastDenial = &event
	m.mu.Unlock()

	m.logger.Warn("access denied", "email", email)
	m.notifyIdentity(nil)
	m.notifyEvent(event)
}

// notifyIdentity fans out to a snapshot of the observer list, so an observer
// unsubscribing mid-notification cannot corrupt the iteration.
func (m *Manager) notifyIdentity(identity *Identity) {
	m.mu.Lock()
	snapshot := make([]*identityObserver, len(m.observers))
	copy(snapshot, m.observers)
	m.mu.Unlock()

	for _, obs := range snapshot {
		obs.fn(identity)
	}
}

func (m *Manager) notifyEvent(event Event) {
	m.mu.Lock()
	snapshot := make([]*eventObserver, len(m.eventObservers))
	copy(snapshot, m.eventObservers)
	m.mu.Unlock()

	for _, obs := range snapshot {
		obs.fn(event)
	}
}
