package session

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStoreAddress(t *testing.T) {
	opts, err := ParseStoreAddress("127.0.0.1:6379")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6379", opts.Addr)

	opts, err = ParseStoreAddress(" localhost:6380 ")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6380", opts.Addr)

	opts, err = ParseStoreAddress("redis://localhost:6381/2")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6381", opts.Addr)
	assert.Equal(t, 2, opts.DB)

	for _, bad := range []string{"", "localhost", ":6379", "localhost:port", "redis://[::1"} {
		_, err := ParseStoreAddress(bad)
		assert.ErrorIs(t, err, ErrInvalidStoreAddress, bad)
	}
}

func TestRedisStore_Get(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("beaker:abc:session", "blob"))

	store, err := NewRedisStore(mr.Addr())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))

	val, err := store.Get(ctx, "beaker:abc:session")
	require.NoError(t, err)
	assert.Equal(t, "blob", string(val))

	_, err = store.Get(ctx, "beaker:missing:session")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(mr.Addr())
	require.NoError(t, err)
	defer store.Close()
	mr.Close()

	_, err = store.Get(context.Background(), "beaker:abc:session")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionNotFound)
}
