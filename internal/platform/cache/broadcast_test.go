package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterDeliversBumps(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBroadcaster(client, nil)
	got := make(chan int64, 4)
	require.NoError(t, b.Listen(ctx, func(_ context.Context, ver int64) { got <- ver }))

	for want := int64(1); want <= 2; want++ {
		ver, err := b.Bump(ctx)
		require.NoError(t, err)
		require.Equal(t, want, ver)
		select {
		case v := <-got:
			require.Equal(t, want, v)
		case <-time.After(2 * time.Second):
			t.Fatalf("bump %d not delivered", want)
		}
	}
}

func TestNilBroadcasterIsNoop(t *testing.T) {
	var b *Broadcaster
	ver, err := b.Bump(context.Background())
	require.NoError(t, err)
	require.Zero(t, ver)
	require.NoError(t, b.Listen(context.Background(), nil))
}
