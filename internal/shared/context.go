package shared

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

type sessionContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// SessionUserID returns the user bound to the request's session. ok is false
// for anonymous sessions or when no session was loaded; err reports a stored
// value that is not a positive user id.
func SessionUserID(ctx context.Context) (id int64, ok bool, err error) {
	sess := SessionFromContext(ctx)
	if sess == nil {
		return 0, false, nil
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, false, nil
	}
	id, err = strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false, fmt.Errorf("session user %q is not a user id", raw)
	}
	return id, true, nil
}
