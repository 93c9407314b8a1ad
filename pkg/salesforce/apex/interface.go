package sfapex

import (
	"context"
	"encoding/json"
)

// ApexClient defines the interface for Apex REST operations
type ApexClient interface {
	// Execute calls an Apex REST action and returns its body unchanged
	Execute(ctx context.Context, endpoint, method string, payload map[string]any) (json.RawMessage, error)
}

var _ ApexClient = (*Client)(nil)

var (
	_ SessionProvider = (*FreshPerCall)(nil)
	_ SessionProvider = (*CachedWithTTL)(nil)
	_ SessionOpener   = (*Authenticator)(nil)
)
