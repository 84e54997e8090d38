package redis

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/client/internal/config"
	"tempmail/client/internal/storage"
)

// newTestClient 连接 TEMPMAIL_TEST_REDIS 指定的 Redis，未设置时跳过测试
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TEMPMAIL_TEST_REDIS")
	if addr == "" {
		t.Skip("TEMPMAIL_TEST_REDIS not set")
	}

	c, err := New(context.Background(), &config.RedisConfig{Address: addr, DB: 15}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Client().Del(context.Background(), currentKey, recentKey)
		_ = c.Close()
	})
	c.Client().Del(context.Background(), currentKey, recentKey)
	return c
}

func TestAddressHistory(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	h := NewAddressHistory(c, 3)

	_, err := h.Current(ctx)
	assert.ErrorIs(t, err, storage.ErrNoCurrentAddress)

	for _, addr := range []string{"a@x.io", "b@x.io", "c@x.io", "a@x.io", "d@x.io"} {
		require.NoError(t, h.Remember(ctx, addr))
	}

	current, err := h.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "d@x.io", current)

	recent, err := h.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"d@x.io", "a@x.io", "c@x.io"}, recent)

	require.NoError(t, h.Forget(ctx, "d@x.io"))
	_, err = h.Current(ctx)
	assert.ErrorIs(t, err, storage.ErrNoCurrentAddress)

	recent, err = h.Recent(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.io", "c@x.io"}, recent)
}

func TestNew_Unreachable(t *testing.T) {
	_, err := New(context.Background(), &config.RedisConfig{Address: "127.0.0.1:1"}, nil)
	assert.Error(t, err)
}
