package client

import "context"

// TokenProvider supplies bearer credentials for the upstream admin API.
// Implementations are backed by an external secret store; the OAuth exchange
// itself is not this module's concern.
type TokenProvider interface {
	// Token returns a currently valid access token, refreshing transparently
	// if the cached one is near expiry.
	Token(ctx context.Context) (string, error)

	// ForceRefresh discards the cached token and obtains a new one. Used
	// after the upstream rejects a token that should still have been valid.
	ForceRefresh(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider returning a fixed token. Test and
// development use only: ForceRefresh returns the same token.
type StaticToken string

func (s StaticToken) Token(ctx context.Context) (string, error)        { return string(s), nil }
func (s StaticToken) ForceRefresh(ctx context.Context) (string, error) { return string(s), nil }
