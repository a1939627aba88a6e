package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loqalabs/loqa-callbot/internal/config"
)

func TestHTTPResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		switch r.URL.Path {
		case "/api/v1/drivers/9876543210":
			_, _ = w.Write([]byte(`{"id":"d-1","name":"Ramesh","phone_number":"9876543210","preferred_language":"hi","city":"Delhi"}`))
		case "/api/v1/drivers/9000000000":
			http.Error(w, `{"detail":"Driver not found"}`, http.StatusNotFound)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	resolver, err := New(config.IdentityConfig{Mode: "http", Endpoint: srv.URL, APIKey: "secret"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	driver, err := resolver.Lookup(context.Background(), "9876543210")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if driver.Name != "Ramesh" || driver.ID != "d-1" || driver.PreferredLanguage != "hi" {
		t.Fatalf("unexpected driver: %+v", driver)
	}
	if _, err := resolver.Lookup(context.Background(), "9000000000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := resolver.Lookup(context.Background(), "1111111111"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected server error, got %v", err)
	}
}

func TestNoneResolver(t *testing.T) {
	resolver, err := New(config.IdentityConfig{Mode: "none"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := resolver.Lookup(context.Background(), "9876543210"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := New(config.IdentityConfig{Mode: "ldap"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
