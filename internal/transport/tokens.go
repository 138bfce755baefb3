package transport

import "context"

// TokenSource supplies the cloud session token. Session acquisition and
// refresh belong to an external collaborator; transports only ask for the
// current token and report it invalid on authentication failure.
type TokenSource interface {
	// Token returns the current session token.
	Token(ctx context.Context) (string, error)

	// Invalidate marks the current token as rejected so the collaborator
	// refreshes it before the next call.
	Invalidate()
}

// StaticToken is a TokenSource for a fixed, externally managed token.
type StaticToken string

// Token returns the fixed token.
func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// Invalidate is a no-op for static tokens.
func (StaticToken) Invalidate() {}
