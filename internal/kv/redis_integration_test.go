//go:build integration

package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"clubadmin/pkg/testutil/containers"
)

func TestRedisStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rc := containers.GetManager().GetRedis(t)
	suite.Run(t, &storeContract{newStore: func(t *testing.T) Store {
		require.NoError(t, rc.Flush(context.Background()))
		return NewRedis(rc.Client, time.Minute)
	}})
}

func TestRedisStoreExpires(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	rc := containers.GetManager().GetRedis(t)
	store := NewRedis(rc.Client, time.Second)

	require.NoError(t, store.Set(ctx, "tab-1:pendingAdmin", "{}"))
	require.Eventually(t, func() bool {
		_, ok, err := store.Get(ctx, "tab-1:pendingAdmin")
		return err == nil && !ok
	}, 5*time.Second, 100*time.Millisecond)
}
