package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestSourceHealthRoundTrip(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	ctx := context.Background()
	health, err := Open(ctx, Config{Addr: mr.Addr(), KeyPrefix: "test:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = health.Close() })

	ok := time.Date(2025, 3, 1, 7, 0, 0, 0, time.UTC)
	require.NoError(t, health.RecordSuccess(ctx, "dgmp", ok))
	require.Equal(t, "2025-03-01T07:00:00Z", mr.HGet("test:dgmp", "last_success"))

	failed := ok.Add(24 * time.Hour)
	require.NoError(t, health.RecordFailure(ctx, "dgmp", failed, "status 503"))

	st, err := health.Status(ctx, "dgmp")
	require.NoError(t, err)
	require.Equal(t, ok, st.LastSuccess, "a failure keeps the last success")
	require.Equal(t, "status 503", st.LastError)
	require.Equal(t, failed, st.LastErrorAt)

	st, err = health.Status(ctx, "unknown")
	require.NoError(t, err)
	require.True(t, st.LastSuccess.IsZero())
}

func TestOpenRequiresReachableRedis(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{})
	require.ErrorIs(t, err, ErrEmptyAddress)

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err = Open(context.Background(), Config{Addr: addr})
	require.Error(t, err)
}

func TestDefaultPrefix(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	health, err := Open(context.Background(), Config{Addr: mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, health.RecordFailure(context.Background(), "joffres", time.Now(), "timeout"))
	require.True(t, mr.Exists("tender:source:joffres"))
}
