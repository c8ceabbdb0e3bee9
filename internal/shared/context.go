package shared

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

type userIDContextKey struct{}

// ContextWithUserID stores the authenticated principal in context.
func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDContextKey{}, userID)
}

// UserIDFromContext extracts the authenticated principal. The boolean is false when the request
// carries no principal.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDContextKey{}).(int64)
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}

// ParseUserID parses a principal id as carried in a trusted gateway header.
func ParseUserID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrUnauthenticated
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrincipal, raw)
	}
	return id, nil
}
