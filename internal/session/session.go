// Package session carries the authenticated caller through a request context.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Role is what the caller is allowed to act as.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// ParseRole accepts any casing.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleAdmin, RoleDoctor, RolePatient:
		return r, nil
	}
	return "", fmt.Errorf("session: unknown role %q", s)
}

// Session identifies the caller of one request.
type Session struct {
	UserID uuid.UUID
	Role   Role
}

func (s Session) IsAdmin() bool { return s.Role == RoleAdmin }

// Actor is the name written to the system log.
func (s Session) Actor() string {
	return fmt.Sprintf("%s:%s", s.Role, s.UserID)
}

// ActsFor reports whether the session may act on behalf of the given user in role.
// Admins act for everyone.
func (s Session) ActsFor(role Role, userID uuid.UUID) bool {
	if s.IsAdmin() {
		return true
	}
	return s.Role == role && s.UserID == userID
}

type ctxKey struct{}

func NewContext(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok
}
