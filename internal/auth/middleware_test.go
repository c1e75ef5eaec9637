package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type mockKeyStore struct {
	keys map[string]*KeyMetadata
	err  error
}

func (m *mockKeyStore) Lookup(_ context.Context, keyHash string) (*KeyMetadata, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.keys[keyHash], nil
}

func serve(t *testing.T, store KeyStore, authHeader string, next http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/bots", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "test-req")
	Middleware(store)(next).ServeHTTP(w, req)
	return w
}

func TestMiddleware_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
		store  *mockKeyStore
		status int
	}{
		{"missing header", "", &mockKeyStore{}, http.StatusUnauthorized},
		{"basic auth", "Basic dXNlcjpwYXNz", &mockKeyStore{}, http.StatusUnauthorized},
		{"empty bearer", "Bearer ", &mockKeyStore{}, http.StatusUnauthorized},
		{"unknown key", "Bearer chorus-prod-invalidkey123", &mockKeyStore{}, http.StatusUnauthorized},
		{"store error", "Bearer chorus-prod-invalidkey123", &mockKeyStore{err: errors.New("db down")}, http.StatusInternalServerError},
		// A failing store proves these never reach a lookup.
		{"foreign key format", "Bearer sk-proj-abc123", &mockKeyStore{err: errors.New("db down")}, http.StatusUnauthorized},
		{"scheme without token", "Bearer", &mockKeyStore{err: errors.New("db down")}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, tt.store, tt.header, func(http.ResponseWriter, *http.Request) {
				t.Error("handler should not be called")
			})
			if w.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, w.Code)
			}
		})
	}
}

func TestMiddleware_ValidKey(t *testing.T) {
	rawKey := "chorus-prod-testkey12345678901234567890ab"
	rpm := 30
	store := &mockKeyStore{
		keys: map[string]*KeyMetadata{
			HashKey(rawKey): {
				ID:               "key-uuid-123",
				Name:             "ci",
				Owner:            "platform",
				AllowedProviders: []string{"openai"},
				RPMLimit:         &rpm,
				ExpiresAt:        time.Now().Add(24 * time.Hour),
			},
		},
	}

	var got *AuthInfo
	w := serve(t, store, "Bearer "+rawKey, func(w http.ResponseWriter, r *http.Request) {
		info, ok := AuthFromContext(r.Context())
		if !ok {
			t.Error("expected auth info in context")
			return
		}
		got = info
		if Subject(r.Context()) != "key-uuid-123" {
			t.Errorf("unexpected subject %s", Subject(r.Context()))
		}
		w.WriteHeader(http.StatusOK)
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got == nil || got.Owner != "platform" || *got.RPMLimit != 30 || len(got.AllowedProviders) != 1 {
		t.Errorf("unexpected auth info %+v", got)
	}
}

func TestMiddleware_SchemeCaseInsensitive(t *testing.T) {
	rawKey := "chorus-dev-abcdefghijklmnopqrstuvwxyz012345"
	store := &mockKeyStore{keys: map[string]*KeyMetadata{HashKey(rawKey): {ID: "k1"}}}

	w := serve(t, store, "bearer  "+rawKey, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSubject_Anonymous(t *testing.T) {
	if s := Subject(context.Background()); s != "anonymous" {
		t.Errorf("expected anonymous, got %s", s)
	}
}
