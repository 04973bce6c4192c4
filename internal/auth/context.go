package auth

import "context"

type contextKey struct{}

// AuthContext is the identity an upstream proxy vouched for.
type AuthContext struct {
	UserID   int64
	Username string
	Language string
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

// WithUser attaches a bare user id.
func WithUser(ctx context.Context, userID int64) context.Context {
	return WithAuth(ctx, AuthContext{UserID: userID})
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func UserID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.UserID
}

func Language(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.Language
}
