package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token is a bearer credential obtained from the identity provider.
//
// ExpiresAt is always derived locally at acquisition time (issuance time plus
// ExpiresIn) so expiry can be checked without a network call; it is never
// copied from an issuer-supplied absolute timestamp.
type Token struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token,omitempty"`
	TokenType   string `json:"token_type,omitempty"`
	Scope       string `json:"scope,omitempty"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
	ExpiresAt   int64  `json:"expires_at,omitempty"`
}

// HasLocalExpiry reports whether the token carries a derived absolute expiry.
func (t *Token) HasLocalExpiry() bool {
	return t != nil && t.ExpiresAt > 0
}

// Expired reports whether the token's derived expiry has passed.
// Tokens without a local expiry are not considered expired here; callers
// needing a definitive answer must fall back to issuer verification.
func (t *Token) Expired(now time.Time) bool {
	if t == nil {
		return true
	}
	return t.ExpiresAt > 0 && now.Unix() >= t.ExpiresAt
}

// Claims are the identity assertions returned by the provider's token-info
// endpoint.
type Claims struct {
	Aud        string `json:"aud"`
	Sub        string `json:"sub"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Picture    string `json:"picture"`
	HostedDom  string `json:"hd"`
}

// Identity is the resolved, policy-checked user. One exists only after the
// token's assertions passed the audience and domain checks and, when a
// registry is configured, the registry returned a positive record.
type Identity struct {
	SubjectID    string        `json:"subjectId"`
	Email        string        `json:"email"`
	DisplayName  string        `json:"displayName"`
	GivenName    string        `json:"givenName,omitempty"`
	FamilyName   string        `json:"familyName,omitempty"`
	PictureURL   string        `json:"pictureUrl,omitempty"`
	IssuerDomain string        `json:"issuerDomain"`
	Registration *Registration `json:"registration,omitempty"`
}

func identityFromClaims(c *Claims, reg *Registration) *Identity {
	return &Identity{
		SubjectID:    c.Sub,
		Email:        c.Email,
		DisplayName:  c.Name,
		GivenName:    c.GivenName,
		FamilyName:   c.FamilyName,
		PictureURL:   c.Picture,
		IssuerDomain: c.HostedDom,
		Registration: reg,
	}
}

// idTokenStillValid inspects a raw ID token's exp claim without verifying the
// signature. Used only to decide whether a persisted session is worth
// resuming; signature verification happens against the issuer afterwards.
func idTokenStillValid(raw string, now time.Time) bool {
	if raw == "" {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return now.Before(exp.Time)
}
