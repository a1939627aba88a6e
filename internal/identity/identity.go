// Package identity resolves a caller's phone number to a known driver.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loqalabs/loqa-callbot/internal/config"
)

const maxDriverResponse = 256 << 10

// ErrNotFound is returned when no driver matches the number.
var ErrNotFound = errors.New("identity: driver not found")

// Driver is the subset of the driver record the call path needs.
type Driver struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	PhoneNumber       string `json:"phone_number"`
	PreferredLanguage string `json:"preferred_language"`
	City              string `json:"city"`
}

// Resolver looks up drivers by normalized 10-digit phone number.
type Resolver interface {
	Lookup(ctx context.Context, phone string) (Driver, error)
}

// New builds the resolver selected by cfg.Mode.
func New(cfg config.IdentityConfig) (Resolver, error) {
	switch cfg.Mode {
	case "", "none":
		return noneResolver{}, nil
	case "http":
		return NewHTTPResolver(cfg.Endpoint, cfg.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported identity mode %q", cfg.Mode)
	}
}

type noneResolver struct{}

func (noneResolver) Lookup(context.Context, string) (Driver, error) {
	return Driver{}, ErrNotFound
}

type httpResolver struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// NewHTTPResolver queries GET {endpoint}/api/v1/drivers/{phone}.
func NewHTTPResolver(endpoint, apiKey string) Resolver {
	return &httpResolver{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *httpResolver) Lookup(ctx context.Context, phone string) (Driver, error) {
	if phone == "" {
		return Driver{}, ErrNotFound
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/api/v1/drivers/"+url.PathEscape(phone), nil)
	if err != nil {
		return Driver{}, err
	}
	req.Header.Set("Accept", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return Driver{}, fmt.Errorf("identity lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Driver{}, ErrNotFound
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDriverResponse))
	if err != nil {
		return Driver{}, fmt.Errorf("read identity response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Driver{}, fmt.Errorf("identity lookup returned status %s", resp.Status)
	}
	var driver Driver
	if err := json.Unmarshal(body, &driver); err != nil {
		return Driver{}, fmt.Errorf("decode driver: %w", err)
	}
	return driver, nil
}
