// ABOUTME: Authentication context for tracking caller identity through request handlers
// ABOUTME: Provides WithSubject/SubjectFromContext for propagating the verified subject

package auth

import (
	"context"
)

// subjectKey is the key type for storing the verified subject in context.Context.
type subjectKey struct{}

// WithSubject returns a new context with the verified token subject attached.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext retrieves the verified subject from the context,
// returning "" if the request was not authenticated.
func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(subjectKey{}).(string)
	return subject
}
