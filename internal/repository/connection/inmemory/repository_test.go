package inmemory

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharetube/syncplay/internal/repository/connection"
)

type stubConn struct{ name string }

func (c *stubConn) TrySend([]byte) error { return nil }
func (c *stubConn) Close()               {}

func TestRepo(t *testing.T) {
	r := NewRepo(slog.Default())
	a, b := &stubConn{"a"}, &stubConn{"b"}

	require.NoError(t, r.Add(a, "dev-a"))
	require.NoError(t, r.Add(b, "dev-b"))
	assert.ErrorIs(t, r.Add(a, "dev-c"), connection.ErrAlreadyExists)
	assert.ErrorIs(t, r.Add(&stubConn{"c"}, "dev-a"), connection.ErrAlreadyExists)

	conn, err := r.GetConn("dev-a")
	require.NoError(t, err)
	assert.Same(t, a, conn)

	id, err := r.GetDeviceId(b)
	require.NoError(t, err)
	assert.Equal(t, "dev-b", id)

	assert.Len(t, r.All(), 2)

	removed, err := r.RemoveByDeviceId("dev-a")
	require.NoError(t, err)
	assert.Same(t, a, removed)

	_, err = r.GetConn("dev-a")
	assert.ErrorIs(t, err, connection.ErrNotFound)
	_, err = r.GetDeviceId(a)
	assert.ErrorIs(t, err, connection.ErrNotFound)
	_, err = r.RemoveByDeviceId("dev-a")
	assert.ErrorIs(t, err, connection.ErrNotFound)

	assert.Len(t, r.All(), 1)
}
