package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Registration is the record the institutional identity registry returns for
// an enrolled member. Field tags follow the registry's wire format.
type Registration struct {
	Enrollment      string `json:"MATRICULA"`
	PaternalSurname string `json:"PATERNO"`
	MaternalSurname string `json:"MATERNO"`
	GivenNames      string `json:"NOMBRES"`
	MemberType      string `json:"TIPO"`
	MemberTypeDesc  string `json:"DESCTIPO"`
	Sex             string `json:"SEXO"`
}

// Registry confirms institutional membership beyond what the identity
// provider asserts. A nil record means no registration exists for the email;
// the caller treats that as an authorization denial.
type Registry interface {
	Lookup(ctx context.Context, email string) (*Registration, error)
}

// RegistryClient queries the SIIA membership endpoint. Any non-success
// status, transport failure or malformed body yields no record, never a
// panic: membership checks fail closed.
type RegistryClient struct {
	endpoint string
	appID    string
	appToken string
	client   *http.Client
}

// NewRegistryClient creates a RegistryClient for the given endpoint and
// application credentials.
func NewRegistryClient(endpoint, appID, appToken string) *RegistryClient {
	return &RegistryClient{
		endpoint: endpoint,
		appID:    appID,
		appToken: appToken,
		client:   &http.Client{Timeout: 12 * time.Second},
	}
}

type registryRequest struct {
	AppID string `json:"id_usuario"`
	Token string `json:"token"`
	Email string `json:"correo"`
}

type registryResponse struct {
	Record json.RawMessage `json:"registro"`
}

// Lookup queries the registry for the given email. The registry signals "not
// registered" with a falsy registro field rather than an error status.
func (c *RegistryClient) Lookup(ctx context.Context, email string) (*Registration, error) {
	body, err := json.Marshal(registryRequest{AppID: c.appID, Token: c.appToken, Email: email})
	if err != nil {
		return nil, fmt.Errorf("registry request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("registry request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry lookup: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("registry lookup: status %d", resp.StatusCode)
	}

	var payload registryResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("registry lookup: decode: %w", err)
	}

	record := parseRegistrationRecord(payload.Record)
	return record, nil
}

// parseRegistrationRecord interprets the registro field, which is either an
// object (a registration) or a falsy value (false, null, empty) meaning the
// email is not registered.
func parseRegistrationRecord(raw json.RawMessage) *Registration {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var record Registration
	if err := json.Unmarshal(trimmed, &record); err != nil {
		return nil
	}
	return &record
}
