package session

import (
	"context"
	"errors"
	"testing"

	redislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	data map[string]string
	err  error
}

func (m *mockStore) Get(_ context.Context, key string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	val, ok := m.data[key]
	if !ok {
		return "", redislib.Nil
	}
	return val, nil
}

type prefixKeyer struct{}

func (prefixKeyer) AccessSessionKey(accessID string) string { return "session:" + accessID }

func TestHasSession(t *testing.T) {
	store := &mockStore{data: map[string]string{"session:live": "refresh"}}
	checker := &Checker{store: store, keyer: prefixKeyer{}}

	ok, err := checker.HasSession(context.Background(), "live")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = checker.HasSession(context.Background(), "revoked")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = checker.HasSession(context.Background(), " ")
	assert.Error(t, err)
}

func TestHasSessionPropagatesStoreErrors(t *testing.T) {
	checker := &Checker{store: &mockStore{err: errors.New("connection refused")}, keyer: prefixKeyer{}}
	_, err := checker.HasSession(context.Background(), "live")
	assert.Error(t, err)
}

func TestNewCheckerRequiresClient(t *testing.T) {
	_, err := NewChecker(nil)
	assert.Error(t, err)
}
