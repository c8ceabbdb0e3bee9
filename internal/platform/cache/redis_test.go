package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPingsServer(t *testing.T) {
	srv := miniredis.RunT(t)
	srv.RequireAuth("secret")

	client, err := New(context.Background(), Options{Addr: srv.Addr(), Password: "secret"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(context.Background(), Options{Addr: srv.Addr(), Password: "wrong"})
	assert.ErrorContains(t, err, "platform/cache: ping")
}
