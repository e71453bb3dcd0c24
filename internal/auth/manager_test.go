package auth

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"io"
	"log/slog"
)

const testClientID = "client-id"

type providerStub struct {
	authCodeURL    func(state string) string
	exchange       func(ctx context.Context, code string) (*Token, error)
	tokenInfo      func(ctx context.Context, idToken string) (*Claims, error)
	revoke         func(ctx context.Context, accessToken string) error
	tokenInfoCalls int
	revokeCalls    int
}

func (p *providerStub) AuthCodeURL(state string) string {
	if p.authCodeURL != nil {
		return p.authCodeURL(state)
	}
	return "https://auth.test/consent?state=" + state
}

func (p *providerStub) Exchange(ctx context.Context, code string) (*Token, error) {
	if p.exchange != nil {
		return p.exchange(ctx, code)
	}
	return nil, errors.New("exchange not stubbed")
}

func (p *providerStub) TokenInfo(ctx context.Context, idToken string) (*Claims, error) {
	p.tokenInfoCalls++
	if p.tokenInfo != nil {
		return p.tokenInfo(ctx, idToken)
	}
	return nil, errors.New("token info not stubbed")
}

func (p *providerStub) Revoke(ctx context.Context, accessToken string) error {
	p.revokeCalls++
	if p.revoke != nil {
		return p.revoke(ctx, accessToken)
	}
	return nil
}

type registryStub struct {
	lookup func(ctx context.Context, email string) (*Registration, error)
}

func (r *registryStub) Lookup(ctx context.Context, email string) (*Registration, error) {
	if r.lookup != nil {
		return r.lookup(ctx, email)
	}
	return nil, nil
}

func newTestManager(provider Provider, store Store, registry Registry) *Manager {
	return NewManager(ManagerConfig{
		Provider:      provider,
		Store:         store,
		Registry:      registry,
		ClientID:      testClientID,
		AllowedDomain: "unicach.mx",
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		RetryDelay:    time.Millisecond,
	})
}

func validToken(now time.Time) Token {
	return Token{
		AccessToken: "access-1",
		IDToken:     "id-token-1",
		TokenType:   "Bearer",
		Scope:       "openid email profile",
		ExpiresIn:   3600,
		ExpiresAt:   now.Add(time.Hour).Unix(),
	}
}

func validClaims() *Claims {
	return &Claims{
		Aud:       testClientID,
		Sub:       "1",
		Email:     "a@unicach.mx",
		Name:      "Ana Alvarez",
		HostedDom: "unicach.mx",
	}
}

func TestInitializeResumesStoredSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	if err := store.Save(ctx, StoredSession{Token: validToken(now)}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	provider := &providerStub{
		tokenInfo: func(ctx context.Context, idToken string) (*Claims, error) {
			if idToken != "id-token-1" {
				return nil, fmt.Errorf("unexpected id token %q", idToken)
			}
			return validClaims(), nil
		},
	}

	m := newTestManager(provider, store, nil)
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	if state := m.State(); state != StateAuthenticated {
		t.Fatalf("expected state %q, got %q", StateAuthenticated, state)
	}
	identity := m.CurrentIdentity(ctx)
	if identity == nil || identity.Email != "a@unicach.mx" {
		t.Fatalf("expected identity a@unicach.mx, got %+v", identity)
	}

	session, err := store.Load(ctx)
	if err != nil || session == nil || session.Identity == nil {
		t.Fatalf("expected identity persisted alongside token, got %+v (err %v)", session, err)
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Save(ctx, StoredSession{Token: validToken(time.Now())}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	provider := &providerStub{
		tokenInfo: func(ctx context.Context, idToken string) (*Claims, error) {
			return validClaims(), nil
		},
	}

	m := newTestManager(provider, store, nil)
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("second Initialize returned error: %v", err)
	}
	if provider.tokenInfoCalls != 1 {
		t.Fatalf("expected a single verification, got %d", provider.tokenInfoCalls)
	}
}

func TestDomainMismatchDenies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Save(ctx, StoredSession{Token: validToken(time.Now())}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	provider := &providerStub{
		tokenInfo: func(ctx context.Context, idToken string) (*Claims, error) {
			return &Claims{Aud: testClientID, Sub: "2", Email: "b@gmail.com", HostedDom: "gmail.com"}, nil
		},
	}

	m := newTestManager(provider, store, nil)
	var events []Event
	m.SubscribeEvents(func(e Event) { events = append(events, e) })

	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	if state := m.State(); state != StateAccessDenied {
		t.Fatalf("expected state %q, got %q", StateAccessDenied, state)
	}
	if identity := m.CurrentIdentity(ctx); identity != nil {
		t.Fatalf("expected no identity, got %+v", identity)
	}
	if denial := m.LastDenial(); denial == nil || denial.Email != "b@gmail.com" {
		t.Fatalf("expected denial for b@gmail.com, got %+v", denial)
	}
	if len(events) != 1 || events[0].Kind != EventAccessDenied || events[0].Email != "b@gmail.com" {
		t.Fatalf("expected one access-denied event for b@gmail.com, got %+v", events)
	}
	if session, _ := store.Load(ctx); session != nil {
		t.Fatalf("expected store cleared after denial, got %+v", session)
	}
}

func TestAudienceMismatchNeverAuthenticates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Save(ctx, StoredSession{Token: validToken(time.Now())}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	provider := &providerStub{
		tokenInfo: func(ctx context.Context, idToken string) (*Claims, error) {
			// Domain and registry would otherwise approve this token.
			return &Claims{Aud: "someone-else", Sub: "1", Email: "a@unicach.mx", HostedDom: "unicach.mx"}, nil
		},
	}

	m := newTestManager(provider, store, &registryStub{
		lookup: func(ctx context.Context, email string) (*Registration, error) {
			return &Registration{Enrollment: "A12345"}, nil
		},
	})
	var events []Event
	m.SubscribeEvents(func(e Event) { events = append(events, e) })

	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	if state := m.State(); state != StateUnauthenticated {
		t.Fatalf("expected state %q, got %q", StateUnauthenticated, state)
	}
	if identity := m.CurrentIdentity(ctx); identity != nil {
		t.Fatalf("expected no identity, got %+v", identity)
	}
	if len(events) != 1 || events[0].Kind != EventAuthError {
		t.Fatalf("expected a generic auth error, got %+v", events)
	}
}

func TestRegistryRejectionDenies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Save(ctx, StoredSession{Token: validToken(time.Now())}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	provider := &providerStub{
		tokenInfo: func(ctx context.Context, idToken string) (*Claims, error) {
			return validClaims(), nil
		},
	}

	m := newTestManager(provider, store, &registryStub{})

	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}
	if state := m.State(); state != StateAccessDenied {
		t.Fatalf("expected state %q, got %q", StateAccessDenied, state)
	}
	if denial := m.LastDenial(); denial == nil || denial.Email != "a@unicach.mx" {
		t.Fatalf("expected denial for a@unicach.mx, got %+v", denial)
	}
}

func TestRegistryRecordEnrichesIdentity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Save(ctx, StoredSession{Token: validToken(time.Now())}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	provider := &providerStub{
		tokenInfo: func(ctx context.Context, idToken string) (*Claims, error) {
			return validClaims(), nil
		},
	}

	m := newTestManager(provider, store, &registryStub{
		lookup: func(ctx context.Context, email string) (*Registration, error) {
			if email != "a@unicach.mx" {
				return nil, nil
			}
			return &Registration{Enrollment: "A12345", MemberType: "AL"}, nil
		},
	})

	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}
	identity := m.CurrentIdentity(ctx)
	if identity == nil || identity.Registration == nil {
		t.Fatalf("expected identity with registration, got %+v", identity)
	}
	if identity.Registration.Enrollment != "A12345" {
		t.Fatalf("expected enrollment A12345, got %q", identity.Registration.Enrollment)
	}
}

func TestExchangeFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	provider := &providerStub{
		exchange: func(ctx context.Context, code string) (*Token, error) {
			return nil, errors.New("400 invalid_grant")
		},
	}

	m := newTestManager(provider, store, nil)
	var events []Event
	m.SubscribeEvents(func(e Event) { events = append(events, e) })

	if err := m.CompleteAuthorization(ctx, "bad-code"); err == nil {
		t.Fatal("expected error from failed exchange")
	}

	if state := m.State(); state != StateUnauthenticated {
		t.Fatalf("expected state %q, got %q", StateUnauthenticated, state)
	}
	if session, _ := store.Load(ctx); session != nil {
		t.Fatalf("expected nothing persisted, got %+v", session)
	}
	if len(events) != 1 || events[0].Kind != EventAuthError {
		t.Fatalf("expected one generic error event, got %+v", events)
	}
}

func TestCompleteAuthorizationSuccess(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	provider := &providerStub{
		exchange: func(ctx context.Context, code string) (*Token, error) {
			if code != "good-code" {
				return nil, fmt.Errorf("unexpected code %q", code)
			}
			token := validToken(now)
			return &token, nil
		},
		tokenInfo: func(ctx context.Context, idToken string) (*Claims, error) {
			return validClaims(), nil
		},
	}

	m := newTestManager(provider, store, nil)

	// The identity must already be durable when observers hear about it.
	var persistedAtNotify bool
	m.Subscribe(func(identity *Identity) {
		if identity == nil {
			return
		}
		session, _ := store.Load(ctx)
		persistedAtNotify = session != nil && session.Identity != nil
	})

	if err := m.CompleteAuthorization(ctx, "good-code"); err != nil {
		t.Fatalf("CompleteAuthorization returned error: %v", err)
	}
	if state := m.State(); state != StateAuthenticated {
		t.Fatalf("expected state %q, got %q", StateAuthenticated, state)
	}
	if !persistedAtNotify {
		t.Fatal("expected session persisted before observers were notified")
	}
}

func TestExpiredStoredSessionIsCleared(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	token := validToken(time.Now())
	token.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	if err := store.Save(ctx, StoredSession{Token: token}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	provider := &providerStub{}

	m := newTestManager(provider, store, nil)
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	if state := m.State(); state != StateExpired {
		t.Fatalf("expected state %q, got %q", StateExpired, state)
	}
	if provider.tokenInfoCalls != 0 {
		t.Fatalf("expected no network verification for a locally expired token, got %d calls", provider.tokenInfoCalls)
	}
	if session, _ := store.Load(ctx); session != nil {
		t.Fatalf("expected store cleared, got %+v", session)
	}
}

func TestIssuerRejectionExpiresSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	token := validToken(time.Now())
	token.ExpiresAt = 0
	token.ExpiresIn = 0
	if err := store.Save(ctx, StoredSession{Token: token}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	provider := &providerStub{
		tokenInfo: func(ctx context.Context, idToken string) (*Claims, error) {
			return nil, fmt.Errorf("%w (status 400)", ErrTokenRejected)
		},
	}

	m := newTestManager(provider, store, nil)
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}
	if state := m.State(); state != StateExpired {
		t.Fatalf("expected state %q, got %q", StateExpired, state)
	}
}

func TestSignOutClearsEvenWhenRevokeFails(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Save(ctx, StoredSession{Token: validToken(time.Now())}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	provider := &providerStub{
		tokenInfo: func(ctx context.Context, idToken string) (*Claims, error) {
			return validClaims(), nil
		},
		revoke: func(ctx context.Context, accessToken string) error {
			return errors.New("revoke endpoint unavailable")
		},
	}

	m := newTestManager(provider, store, nil)
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	m.SignOut(ctx)

	if identity := m.CurrentIdentity(ctx); identity != nil {
		t.Fatalf("expected no identity after sign-out, got %+v", identity)
	}
	if session, _ := store.Load(ctx); session != nil {
		t.Fatalf("expected store cleared after sign-out, got %+v", session)
	}
	if provider.revokeCalls != 1 {
		t.Fatalf("expected one revocation attempt, got %d", provider.revokeCalls)
	}
	if state := m.State(); state != StateUnauthenticated {
		t.Fatalf("expected state %q, got %q", StateUnauthenticated, state)
	}
}

func TestSubscribeInvokesImmediatelyExactlyOnce(t *testing.T) {
	m := newTestManager(&providerStub{}, NewMemoryStore(), nil)

	var calls int
	var last *Identity
	unsubscribe := m.Subscribe(func(identity *Identity) {
		calls++
		last = identity
	})
	defer unsubscribe()

	if calls != 1 {
		t.Fatalf("expected exactly one immediate invocation, got %d", calls)
	}
	if last != nil {
		t.Fatalf("expected absent identity at subscription time, got %+v", last)
	}
}

func TestUnsubscribeDuringNotification(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Save(ctx, StoredSession{Token: validToken(time.Now())}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	provider := &providerStub{
		tokenInfo: func(ctx context.Context, idToken string) (*Claims, error) {
			return validClaims(), nil
		},
	}
	m := newTestManager(provider, store, nil)

	var secondCalls int
	var unsubscribeSecond func()
	m.Subscribe(func(identity *Identity) {
		if identity != nil && unsubscribeSecond != nil {
			unsubscribeSecond()
		}
	})
	unsubscribeSecond = m.Subscribe(func(identity *Identity) {
		secondCalls++
	})

	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	// The second observer saw the immediate call plus the snapshot fan-out;
	// unsubscribing mid-notification must not panic or skip observers.
	if secondCalls != 2 {
		t.Fatalf("expected second observer called twice, got %d", secondCalls)
	}
}

func TestIsTokenExpiredLocalCheckSkipsNetwork(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	token := validToken(time.Now())
	if err := store.Save(ctx, StoredSession{Token: token}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	provider := &providerStub{}

	m := newTestManager(provider, store, nil)
	if m.IsTokenExpired(ctx) {
		t.Fatal("expected token not expired")
	}
	if provider.tokenInfoCalls != 0 {
		t.Fatalf("expected no network call for local expiry check, got %d", provider.tokenInfoCalls)
	}

	past := validToken(time.Now())
	past.ExpiresAt = time.Now().Add(-time.Second).Unix()
	if err := store.Save(ctx, StoredSession{Token: past}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	if !m.IsTokenExpired(ctx) {
		t.Fatal("expected token expired")
	}
	if provider.tokenInfoCalls != 0 {
		t.Fatalf("expected no network call for local expiry check, got %d", provider.tokenInfoCalls)
	}
}

func TestIsTokenExpiredFailsClosed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	token := Token{AccessToken: "access-1", IDToken: "id-token-1"}
	if err := store.Save(ctx, StoredSession{Token: token}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	provider := &providerStub{
		tokenInfo: func(ctx context.Context, idToken string) (*Claims, error) {
			return nil, errors.New("network unreachable")
		},
	}

	m := newTestManager(provider, store, nil)
	if !m.IsTokenExpired(ctx) {
		t.Fatal("expected verification failure to count as expired")
	}
}

func TestClearAndRetryConsumesPendingCode(t *testing.T) {
	// The file backend clears by rewriting its state file, so it also
	// guards against the pending code being wiped along with the session.
	stores := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"file": func(t *testing.T) Store {
			return NewFileStore(filepath.Join(t.TempDir(), "session.json"))
		},
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			now := time.Now()
			if err := store.Save(ctx, StoredSession{Token: validToken(now)}); err != nil {
				t.Fatalf("seed store: %v", err)
			}
			if err := store.SavePendingCode(ctx, "handoff-code"); err != nil {
				t.Fatalf("seed pending code: %v", err)
			}

			provider := &providerStub{
				exchange: func(ctx context.Context, code string) (*Token, error) {
					if code != "handoff-code" {
						return nil, fmt.Errorf("unexpected code %q", code)
					}
					token := validToken(now)
					token.AccessToken = "access-2"
					return &token, nil
				},
				tokenInfo: func(ctx context.Context, idToken string) (*Claims, error) {
					return validClaims(), nil
				},
			}

			m := newTestManager(provider, store, nil)
			m.ClearAndRetry(ctx)

			if state := m.State(); state != StateAuthenticated {
				t.Fatalf("expected state %q after retry, got %q", StateAuthenticated, state)
			}
			if provider.revokeCalls != 1 {
				t.Fatalf("expected old token revoked once, got %d", provider.revokeCalls)
			}
			if code, _ := store.TakePendingCode(ctx); code != "" {
				t.Fatalf("expected pending code consumed, got %q", code)
			}
		})
	}
}

func TestStaleVerificationIsDiscarded(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Save(ctx, StoredSession{Token: validToken(time.Now())}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	var m *Manager
	provider := &providerStub{
		tokenInfo: func(ctx context.Context, idToken string) (*Claims, error) {
			// The session is cleared while verification is in flight; the
			// late result must not resurrect it.
			m.SignOut(ctx)
			return validClaims(), nil
		},
	}

	m = newTestManager(provider, store, nil)
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	if state := m.State(); state != StateUnauthenticated {
		t.Fatalf("expected stale result discarded, state %q", state)
	}
	if identity := m.CurrentIdentity(ctx); identity != nil {
		t.Fatalf("expected no identity, got %+v", identity)
	}
}

func TestBeginAuthorizationRefusedWhileAuthenticated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Save(ctx, StoredSession{Token: validToken(time.Now())}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	provider := &providerStub{
		tokenInfo: func(ctx context.Context, idToken string) (*Claims, error) {
			return validClaims(), nil
		},
	}

	m := newTestManager(provider, store, nil)
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	if _, err := m.BeginAuthorization("state123"); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
}

func TestBeginAuthorizationEntersPendingRedirect(t *testing.T) {
	m := newTestManager(&providerStub{}, NewMemoryStore(), nil)

	url, err := m.BeginAuthorization("state123")
	if err != nil {
		t.Fatalf("BeginAuthorization returned error: %v", err)
	}
	if url == "" {
		t.Fatal("expected a consent URL")
	}
	if state := m.State(); state != StatePendingRedirect {
		t.Fatalf("expected state %q, got %q", StatePendingRedirect, state)
	}
}
