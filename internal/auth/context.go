package auth

import (
	"context"
)

// --- Context Helper Functions ---

// WithSubject returns a copy of ctx carrying the authenticated caller.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, SubjectKey, subject)
}

// SubjectFromContext retrieves the authenticated caller from the request context.
// Returns the subject and true if found, otherwise "" and false.
func SubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(SubjectKey).(string)
	return subject, ok && subject != ""
}
