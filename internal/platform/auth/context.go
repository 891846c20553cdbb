package auth

import (
	"context"
	"slices"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
	SessionKey   contextKey = "session_id"
)

const (
	RoleAdmin  = "admin"
	RoleDoctor = "doctor"
	RoleUser   = "user"
)

// User is an authenticated principal.
type User struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// WithUser returns ctx carrying the user identity and session id.
func WithUser(ctx context.Context, username string, roles []string, sessionID string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, username)
	ctx = context.WithValue(ctx, UserRolesKey, roles)
	if sessionID != "" {
		ctx = context.WithValue(ctx, SessionKey, sessionID)
	}
	return ctx
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

func SessionIDFromContext(ctx context.Context) string {
	sid, _ := ctx.Value(SessionKey).(string)
	return sid
}

// HasRole reports whether ctx carries role. Admins hold every role.
func HasRole(ctx context.Context, role string) bool {
	roles := RolesFromContext(ctx)
	return slices.Contains(roles, role) || slices.Contains(roles, RoleAdmin)
}
