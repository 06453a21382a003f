package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/bazaarhub/api/internal/platform/auth"
)

type stubTokenVerifier struct {
	tokens map[string]*firebaseauth.Token
}

func (s *stubTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if token, ok := s.tokens[idToken]; ok {
		return token, nil
	}
	return nil, firebaseAuthError("invalid token")
}

type firebaseAuthError string

func (e firebaseAuthError) Error() string { return string(e) }

// newTestAuthenticator accepts three canned bearer tokens: "buyer-token",
// "seller-token" and "admin-token".
func newTestAuthenticator() *auth.Authenticator {
	verifier := &stubTokenVerifier{tokens: map[string]*firebaseauth.Token{
		"buyer-token": {
			UID:    "user-1",
			Claims: map[string]interface{}{"role": "user"},
		},
		"seller-token": {
			UID:    "seller-user-1",
			Claims: map[string]interface{}{"role": "seller", "sellerId": "seller-1"},
		},
		"admin-token": {
			UID:    "admin-1",
			Claims: map[string]interface{}{"role": []interface{}{"staff", "admin"}},
		},
	}}
	return auth.NewAuthenticator(verifier)
}

func newRequest(t *testing.T, method, target, body string) *http.Request {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	return httptest.NewRequest(method, target, reader)
}

func withBearer(r *http.Request, token string) *http.Request {
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func withSession(r *http.Request, session string) *http.Request {
	r.Header.Set(SessionHeader, session)
	return r
}
