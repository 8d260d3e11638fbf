package fabric

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// receiveN reads n messages from sub or fails after timeout
func receiveN(t *testing.T, sub Subscription, n int) []string {
	t.Helper()
	out := make([]string, 0, n)
	timeout := time.After(3 * time.Second)
	for len(out) < n {
		select {
		case msg, ok := <-sub.Messages():
			require.True(t, ok, "subscription closed after %d messages", len(out))
			out = append(out, string(msg))
		case <-timeout:
			t.Fatalf("timed out after %d of %d messages", len(out), n)
		}
	}
	return out
}

// runFabricSuite checks the ordering and isolation guarantees shared by every fabric
func runFabricSuite(t *testing.T, newFabric func(t *testing.T) (Publisher, Subscriber)) {
	ctx := context.Background()

	t.Run("per_topic_order", func(t *testing.T) {
		pub, subr := newFabric(t)
		sub, err := subr.Subscribe(ctx, "auction-1")
		require.NoError(t, err)
		defer sub.Close()

		want := make([]string, 0, 50)
		for i := 0; i < 50; i++ {
			msg := fmt.Sprintf("bid-%d", i)
			want = append(want, msg)
			require.NoError(t, pub.Publish(ctx, "auction-1", []byte(msg)))
		}
		require.Equal(t, want, receiveN(t, sub, 50))
	})

	t.Run("every_subscriber_receives", func(t *testing.T) {
		pub, subr := newFabric(t)
		first, err := subr.Subscribe(ctx, "auction-2")
		require.NoError(t, err)
		defer first.Close()
		second, err := subr.Subscribe(ctx, "auction-2")
		require.NoError(t, err)
		defer second.Close()

		require.NoError(t, pub.Publish(ctx, "auction-2", []byte("hello")))
		require.Equal(t, []string{"hello"}, receiveN(t, first, 1))
		require.Equal(t, []string{"hello"}, receiveN(t, second, 1))
	})

	t.Run("topics_are_isolated", func(t *testing.T) {
		pub, subr := newFabric(t)
		sub, err := subr.Subscribe(ctx, "auction-3")
		require.NoError(t, err)
		defer sub.Close()

		require.NoError(t, pub.Publish(ctx, "auction-other", []byte("noise")))
		require.NoError(t, pub.Publish(ctx, "auction-3", []byte("signal")))
		require.Equal(t, []string{"signal"}, receiveN(t, sub, 1))
	})

	t.Run("close_ends_messages", func(t *testing.T) {
		_, subr := newFabric(t)
		sub, err := subr.Subscribe(ctx, "auction-4")
		require.NoError(t, err)
		require.NoError(t, sub.Close())
		require.NoError(t, sub.Close())

		select {
		case _, ok := <-sub.Messages():
			require.False(t, ok)
		case <-time.After(3 * time.Second):
			t.Fatal("messages channel not closed")
		}
	})
}
