// Package identity defines the identity-provider contract the session layer
// depends on, and an HTTP implementation backed by the medscan API.
package identity

import (
	"context"

	"medscan/pkg/failure"
)

var (
	ErrInvalidCredentials = failure.Validation("invalid email or password")
	ErrEmailAlreadyInUse  = failure.Conflict("email already in use")
	ErrWeakPassword       = failure.Validation("password is too weak")
	ErrPopupClosed        = failure.Permanent("sign-in popup closed or denied")
	ErrNotSignedIn        = failure.Validation("no user is signed in")
)

// User is the provider's view of an authenticated account.
type User struct {
	ID            string  `json:"id"`
	Email         string  `json:"email"`
	Name          string  `json:"name"`
	Avatar        *string `json:"avatar"`
	EmailVerified bool    `json:"email_verified"`
}

// Clone returns a deep copy so callers never share the avatar pointer.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	if u.Avatar != nil {
		avatar := *u.Avatar
		out.Avatar = &avatar
	}
	return &out
}

// ProfileUpdate carries the fields to change; nil means unchanged.
type ProfileUpdate struct {
	Name   *string `json:"name,omitempty"`
	Avatar *string `json:"avatar,omitempty"`
}

// Listener receives the signed-in user, or nil after sign-out.
type Listener func(user *User)

// Provider is an event-emitting identity provider. Auth state changes are
// pushed to listeners asynchronously and in order; the first callback after
// subscribing reports the state once the provider has finished restoring any
// previous session.
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*User, error)
	CreateUser(ctx context.Context, email, password string) (*User, error)
	SignInWithPopup(ctx context.Context) (*User, error)
	UpdateProfile(ctx context.Context, update ProfileUpdate) (*User, error)
	SendEmailVerification(ctx context.Context) error
	SignOut(ctx context.Context) error
	CurrentUser() *User
	OnAuthStateChanged(fn Listener) (unsubscribe func())
}
