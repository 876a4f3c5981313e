package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	setNXResult bool
	setNXError  error
	lastKey     string
	lastTTL     time.Duration
	lastDeleted string
}

func (f *fakeStore) Get(context.Context, string) (string, error) {
	return "", nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, _ any, ttl time.Duration) (bool, error) {
	f.lastKey = key
	f.lastTTL = ttl
	return f.setNXResult, f.setNXError
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "proofledger:idempotency:" + scope + ":" + id
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	if len(keys) > 0 {
		f.lastDeleted = keys[0]
	}
	return nil
}

func TestSeenFirstDelivery(t *testing.T) {
	store := &fakeStore{setNXResult: true}
	guard, err := NewGuard(store, "reconcile-worker", 24*time.Hour)
	require.NoError(t, err)

	eventID := uuid.New()
	seen, err := guard.Seen(context.Background(), eventID)
	require.NoError(t, err)
	assert.False(t, seen)
	assert.Equal(t, "proofledger:idempotency:evt:processed:reconcile-worker:"+eventID.String(), store.lastKey)
	assert.Equal(t, 24*time.Hour, store.lastTTL)
}

func TestSeenRedelivery(t *testing.T) {
	guard, err := NewGuard(&fakeStore{setNXResult: false}, "reconcile-worker", time.Hour)
	require.NoError(t, err)

	seen, err := guard.Seen(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestSeenStoreError(t *testing.T) {
	guard, err := NewGuard(&fakeStore{setNXError: errors.New("boom")}, "reconcile-worker", time.Hour)
	require.NoError(t, err)

	_, err = guard.Seen(context.Background(), uuid.New())
	require.Error(t, err)
}

func TestForget(t *testing.T) {
	store := &fakeStore{}
	guard, err := NewGuard(store, "reconcile-worker", time.Hour)
	require.NoError(t, err)

	eventID := uuid.New()
	require.NoError(t, guard.Forget(context.Background(), eventID))
	assert.Equal(t, "proofledger:idempotency:evt:processed:reconcile-worker:"+eventID.String(), store.lastDeleted)
}

func TestNewGuardValidation(t *testing.T) {
	_, err := NewGuard(nil, "c", time.Hour)
	require.Error(t, err)
	_, err = NewGuard(&fakeStore{}, " ", time.Hour)
	require.Error(t, err)
	_, err = NewGuard(&fakeStore{}, "c", -time.Second)
	require.Error(t, err)

	guard, err := NewGuard(&fakeStore{}, "c", time.Hour)
	require.NoError(t, err)
	_, err = guard.Seen(context.Background(), uuid.Nil)
	require.Error(t, err)
}
