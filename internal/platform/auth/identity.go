package auth

import (
	"context"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Marketplace roles carried on Firebase custom claims. A token may carry one
// role or a list; staff and admin are back-office roles, seller marks a
// storefront operator whose sellerId claim scopes what they may read.
const (
	RoleUser   = "user"
	RoleSeller = "seller"
	RoleStaff  = "staff"
	RoleAdmin  = "admin"
)

// Identity is the authenticated principal extracted from a verified Firebase
// ID token. SellerID is empty unless the token carries the seller claim.
type Identity struct {
	UID      string
	Email    string
	SellerID string
	Roles    []string

	token *firebaseauth.Token
}

// Token exposes the decoded Firebase ID token backing this identity.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// HasRole reports whether the identity carries the role, case-insensitively.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return false
	}
	for _, r := range i.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the identity carries at least one of the roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

type contextKey string

const identityContextKey contextKey = "github.com/bazaarhub/api/internal/platform/auth/identity"

// WithIdentity stores the identity in the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity stored by the auth middleware.
// A missing identity means the request is a guest.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
