// Package session answers whether an access token's session is still live.
// Sessions are created and revoked by the auth service; this side only reads.
package session

import (
	"context"
	"fmt"
	"strings"

	redisclient "github.com/angelmondragon/commonsportal-backend/pkg/redis"
)

type sessionStore interface {
	Get(ctx context.Context, key string) (string, error)
}

type sessionKeyer interface {
	AccessSessionKey(accessID string) string
}

// AccessSessionChecker exposes the read-only surface needed by middleware.
type AccessSessionChecker interface {
	HasSession(ctx context.Context, accessID string) (bool, error)
}

type Checker struct {
	store sessionStore
	keyer sessionKeyer
}

func NewChecker(client *redisclient.Client) (*Checker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &Checker{store: client, keyer: client}, nil
}

// HasSession reports whether the access id still has an active session.
func (c *Checker) HasSession(ctx context.Context, accessID string) (bool, error) {
	if strings.TrimSpace(accessID) == "" {
		return false, fmt.Errorf("access id is required")
	}
	if _, err := c.store.Get(ctx, c.keyer.AccessSessionKey(accessID)); err != nil {
		if redisclient.IsNil(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
