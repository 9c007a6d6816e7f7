package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, prefix string) (*miniredis.Miniredis, RedisAdapter) {
	t.Helper()
	mr := miniredis.RunT(t)
	adapter, err := NewRedisAdapter(t.Name()+"-"+mr.Addr(), prefix, &Options{Addrs: []string{mr.Addr()}})
	require.NoError(t, err)
	return mr, adapter
}

func TestAdapter_KeysArePrefixed(t *testing.T) {
	mr, adapter := newTestAdapter(t, "reseller:")

	require.NoError(t, adapter.Set("catalog:services", []byte("[]"), time.Minute))
	assert.True(t, mr.Exists("reseller:catalog:services"))

	got, err := adapter.Get("catalog:services")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(got))

	_, err = adapter.Get("missing")
	assert.ErrorIs(t, err, NilError)
}

func TestAdapter_SetNXAndCompareAndDelete(t *testing.T) {
	_, adapter := newTestAdapter(t, "")

	ok, err := adapter.SetNX("lock", []byte("holder-a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = adapter.SetNX("lock", []byte("holder-b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// only the holder can release
	deleted, err := adapter.CompareAndDelete("lock", []byte("holder-b"))
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = adapter.CompareAndDelete("lock", []byte("holder-a"))
	require.NoError(t, err)
	assert.True(t, deleted)

	ok, err = adapter.SetNX("lock", []byte("holder-b"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewRedisAdapter_CachedByName(t *testing.T) {
	mr := miniredis.RunT(t)
	first, err := NewRedisAdapter(t.Name(), "", &Options{Addrs: []string{mr.Addr()}})
	require.NoError(t, err)
	second, err := NewRedisAdapter(t.Name(), "other:", &Options{Addrs: []string{"127.0.0.1:1"}})
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestAdapter_Ping(t *testing.T) {
	mr, adapter := newTestAdapter(t, "")
	assert.NoError(t, adapter.Ping(context.Background()))

	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, adapter.Ping(ctx))
}
