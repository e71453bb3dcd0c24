package http

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"panicdesk/internal/auth"
)

// sessionManager is the slice of the auth manager the transport layer needs.
type sessionManager interface {
	BeginAuthorization(state string) (string, error)
	CompleteAuthorization(ctx context.Context, code string) error
	StashAuthorizationCode(ctx context.Context, code string) error
	CurrentIdentity(ctx context.Context) *auth.Identity
	SignOut(ctx context.Context)
	ClearAndRetry(ctx context.Context)
	State() auth.State
	LastDenial() *auth.Event
	Subscribe(fn func(*auth.Identity)) func()
	SubscribeEvents(fn func(auth.Event)) func()
}

// oauthStatePayload holds the CSRF state and optional redirect path.
type oauthStatePayload struct {
	State      string `json:"s"`
	RedirectTo string `json:"r,omitempty"`
}

// isValidRedirectPath validates that a path is a safe relative redirect.
// It prevents open redirect attacks by ensuring the path:
// - Starts with a single "/" (not "//")
// - Has no scheme or host component
// - Cannot be bypassed via URL encoding
func isValidRedirectPath(path string) bool {
	if path == "" {
		return false
	}

	// Decode to catch encoded bypass attempts like /%2f%2f
	decoded, err := url.QueryUnescape(path)
	if err != nil {
		return false
	}

	// Must start with / but not //
	if !strings.HasPrefix(decoded, "/") || strings.HasPrefix(decoded, "//") {
		return false
	}

	// Parse as URL to ensure no scheme or host
	parsed, err := url.Parse(decoded)
	if err != nil {
		return false
	}

	// Reject if it has a scheme or host (would be absolute URL)
	if parsed.Scheme != "" || parsed.Host != "" {
		return false
	}

	return true
}

const (
	oauthStateCookieName = "panicdesk_oauth_state"
	oauthStateCookieTTL  = 10 * time.Minute
)

// AuthHandler exposes the sign-in flow and session endpoints backed by the
// auth manager.
type AuthHandler struct {
	sessions     sessionManager
	logger       *slog.Logger
	secureCookie bool
	frontendURL  string
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(sessions sessionManager, frontendURL, env string, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		sessions:     sessions,
		logger:       logger,
		secureCookie: !strings.EqualFold(env, "development"),
		frontendURL:  strings.TrimSuffix(frontendURL, "/"),
	}
}

// Login handles GET /auth/login.
// Redirects the user to Google's consent screen.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := auth.GenerateState()
	if err != nil {
		h.logger.Error("failed to generate state", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Store state in cookie for CSRF protection
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    state,
		Path:     "/auth",
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(oauthStateCookieTTL.Seconds()),
	})

	// Preserve redirectTo query param in state payload
	redirectTo := r.URL.Query().Get("redirectTo")
	payload := oauthStatePayload{State: state}
	if redirectTo != "" && isValidRedirectPath(redirectTo) {
		payload.RedirectTo = redirectTo
	}

	// Encode state as base64 JSON to avoid delimiter issues
	stateJSON, _ := json.Marshal(payload)
	fullState := base64.RawURLEncoding.EncodeToString(stateJSON)

	authURL, err := h.sessions.BeginAuthorization(fullState)
	if err != nil {
		h.logger.Warn("login refused", "error", err)
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// Callback handles GET /auth/callback.
// Validates the CSRF state, hands the authorization code to the manager and
// redirects to the frontend with the code stripped from the visible URL.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(oauthStateCookieName)
	if err != nil {
		h.logger.Warn("auth callback: missing state cookie")
		h.redirectWithError(w, r, "invalid_request", "Session expired. Please try again.")
		return
	}

	stateParam := r.URL.Query().Get("state")
	expectedState := stateCookie.Value
	redirectTo := "/"

	stateBytes, err := base64.RawURLEncoding.DecodeString(stateParam)
	if err != nil {
		h.logger.Warn("auth callback: invalid state encoding")
		h.redirectWithError(w, r, "invalid_request", "Invalid state. Please try again.")
		return
	}

	var statePayload oauthStatePayload
	if err := json.Unmarshal(stateBytes, &statePayload); err != nil {
		h.logger.Warn("auth callback: invalid state JSON")
		h.redirectWithError(w, r, "invalid_request", "Invalid state. Please try again.")
		return
	}

	if statePayload.RedirectTo != "" && isValidRedirectPath(statePayload.RedirectTo) {
		redirectTo = statePayload.RedirectTo
	}

	if subtle.ConstantTimeCompare([]byte(statePayload.State), []byte(expectedState)) != 1 {
		h.logger.Warn("auth callback: state mismatch")
		h.redirectWithError(w, r, "invalid_request", "Invalid state. Please try again.")
		return
	}

	// Clear state cookie
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
	})

	// Check for OAuth error from Google
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Warn("auth callback: provider error", "error", errParam)
		h.redirectWithError(w, r, errParam, r.URL.Query().Get("error_description"))
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		h.redirectWithError(w, r, "invalid_request", "Missing authorization code.")
		return
	}

	if err := h.sessions.CompleteAuthorization(r.Context(), code); err != nil {
		h.logger.Error("auth callback: authorization failed", "error", err)
	}

	switch h.sessions.State() {
	case auth.StateAuthenticated:
		http.Redirect(w, r, h.frontendURL+redirectTo, http.StatusTemporaryRedirect)
	case auth.StateAccessDenied:
		message := "Your account is not authorized to access this console."
		if denial := h.sessions.LastDenial(); denial != nil {
			message = denial.Message
		}
		h.redirectWithError(w, r, "access_denied", message)
	default:
		h.redirectWithError(w, r, "auth_error", "Failed to complete authentication.")
	}
}

// Handoff handles POST /auth/handoff.
// Stores an authorization code delivered out of band, for the manager to
// consume exactly once on its next initialization.
func (h *AuthHandler) Handoff(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Code string `json:"code"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	code := strings.TrimSpace(payload.Code)
	if code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	if err := h.sessions.StashAuthorizationCode(r.Context(), code); err != nil {
		h.logger.Error("auth handoff: stash failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store authorization code")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// Session handles GET /api/auth/session.
// Reports the manager's current state, identity and last denial, refreshing
// the identity from the store when the cached one has lapsed.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	identity := h.sessions.CurrentIdentity(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"state":    h.sessions.State(),
		"identity": identity,
		"denial":   h.sessions.LastDenial(),
	})
}

// Logout handles DELETE /api/auth/session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.SignOut(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// Retry handles POST /api/auth/retry.
// Clears the current session and replays any stored authorization code.
func (h *AuthHandler) Retry(w http.ResponseWriter, r *http.Request) {
	h.sessions.ClearAndRetry(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"state":    h.sessions.State(),
		"identity": h.sessions.CurrentIdentity(r.Context()),
		"denial":   h.sessions.LastDenial(),
	})
}

type sseMessage struct {
	event string
	data  []byte
}

// Events handles GET /api/auth/events.
// Streams identity changes and denial/error signals as server-sent events
// until the client disconnects.
func (h *AuthHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Buffered so slow clients drop updates instead of blocking the manager.
	messages := make(chan sseMessage, 16)

	unsubscribeIdentity := h.sessions.Subscribe(func(identity *auth.Identity) {
		payload, err := json.Marshal(map[string]any{
			"state":    h.sessions.State(),
			"identity": identity,
		})
		if err != nil {
			return
		}
		select {
		case messages <- sseMessage{event: "identity", data: payload}:
		default:
		}
	})
	defer unsubscribeIdentity()

	unsubscribeEvents := h.sessions.SubscribeEvents(func(ev auth.Event) {
		payload, err := json.Marshal(ev)
		if err != nil {
			return
		}
		select {
		case messages <- sseMessage{event: string(ev.Kind), data: payload}:
		default:
		}
	})
	defer unsubscribeEvents()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-messages:
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.event, msg.data)
			flusher.Flush()
		}
	}
}

// redirectWithError redirects to the login page with error details.
func (h *AuthHandler) redirectWithError(w http.ResponseWriter, r *http.Request, code, message string) {
	target := h.frontendURL + "/login?error=" + url.QueryEscape(code)
	if message != "" {
		target += "&message=" + url.QueryEscape(message)
	}
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}
