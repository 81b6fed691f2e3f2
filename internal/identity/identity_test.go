package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/driftchat/drift/internal/domain"
)

type fakeEnsurer struct {
	ensured []string
	err     error
}

func (f *fakeEnsurer) EnsureSession(ctx context.Context, userID string) (*domain.UserSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.ensured = append(f.ensured, userID)
	return &domain.UserSession{UserID: userID, State: domain.StateIdle}, nil
}

func TestGenerateAnonID(t *testing.T) {
	id, err := generateAnonID()
	if err != nil {
		t.Fatalf("generateAnonID failed: %v", err)
	}
	if !isValidAnonID(id) {
		t.Errorf("Generated ID %q does not match expected format", id)
	}

	other, err := generateAnonID()
	if err != nil {
		t.Fatalf("generateAnonID failed: %v", err)
	}
	if id == other {
		t.Error("Expected distinct IDs across calls")
	}
}

func TestIsValidAnonID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"anon_0123456789abcdef0123456789abcdef", true},
		{"anon_0123456789ABCDEF0123456789ABCDEF", false},
		{"anon_short", false},
		{"user_0123456789abcdef0123456789abcdef", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := isValidAnonID(tt.id); got != tt.valid {
			t.Errorf("isValidAnonID(%q) = %v, want %v", tt.id, got, tt.valid)
		}
	}
}

func TestMiddleware_AssignsIdentity(t *testing.T) {
	ensurer := &fakeEnsurer{}

	var gotUserID string
	handler := Middleware(ensurer, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !isValidAnonID(gotUserID) {
		t.Errorf("Expected a valid anon ID in context, got %q", gotUserID)
	}
	if len(ensurer.ensured) != 1 || ensurer.ensured[0] != gotUserID {
		t.Errorf("Expected session ensured for %q, got %v", gotUserID, ensurer.ensured)
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == AnonCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("Expected anon cookie to be set")
	}
	if cookie.Value != gotUserID {
		t.Errorf("Cookie value %q does not match context ID %q", cookie.Value, gotUserID)
	}
	if !cookie.HttpOnly {
		t.Error("Expected HttpOnly cookie")
	}
	if cookie.Secure {
		t.Error("Expected insecure cookie in dev mode")
	}
}

func TestMiddleware_ReusesCookie(t *testing.T) {
	ensurer := &fakeEnsurer{}
	const existing = "anon_0123456789abcdef0123456789abcdef"

	var gotUserID string
	handler := Middleware(ensurer, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: existing})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if gotUserID != existing {
		t.Errorf("Expected existing identity %q to be reused, got %q", existing, gotUserID)
	}
}

func TestMiddleware_RejectsMalformedCookie(t *testing.T) {
	ensurer := &fakeEnsurer{}

	var gotUserID string
	handler := Middleware(ensurer, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "not-an-anon-id"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if gotUserID == "not-an-anon-id" {
		t.Error("Expected malformed cookie to be replaced")
	}
	if !isValidAnonID(gotUserID) {
		t.Errorf("Expected a fresh valid identity, got %q", gotUserID)
	}
}

func TestUserIDFromContext_Missing(t *testing.T) {
	if got := UserIDFromContext(context.Background()); got != "" {
		t.Errorf("Expected empty ID for bare context, got %q", got)
	}
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:52100"
	if got := IPFromRequest(req); got != "203.0.113.9" {
		t.Errorf("Expected host part, got %q", got)
	}

	req.RemoteAddr = "203.0.113.9"
	if got := IPFromRequest(req); got != "203.0.113.9" {
		t.Errorf("Expected raw address passthrough, got %q", got)
	}
}
