package kv

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) *Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, "")
}

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemory() },
		"redis":  func(t *testing.T) Store { return newRedisStore(t) },
	}
	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := mk(t)

			_, err := s.Get(ctx, "permission_template:editor")
			require.ErrorIs(t, err, ErrNotFound)
			require.ErrorIs(t, s.Delete(ctx, "permission_template:editor"), ErrNotFound)

			require.NoError(t, s.Put(ctx, "permission_template:editor", []byte(`{"a":1}`)))
			require.NoError(t, s.Put(ctx, "permission_template:viewer", []byte(`{"b":2}`)))
			require.NoError(t, s.Put(ctx, "field_security:Challenge", []byte(`[]`)))

			got, err := s.Get(ctx, "permission_template:editor")
			require.NoError(t, err)
			require.JSONEq(t, `{"a":1}`, string(got))

			listed, err := s.List(ctx, "permission_template:")
			require.NoError(t, err)
			require.Equal(t, []string{"permission_template:editor", "permission_template:viewer"}, SortedKeys(listed))

			require.NoError(t, s.Put(ctx, "permission_template:editor", []byte(`{"a":2}`)))
			got, err = s.Get(ctx, "permission_template:editor")
			require.NoError(t, err)
			require.JSONEq(t, `{"a":2}`, string(got))

			require.NoError(t, s.Delete(ctx, "permission_template:editor"))
			listed, err = s.List(ctx, "permission_template:")
			require.NoError(t, err)
			require.Len(t, listed, 1)
		})
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	in := []byte("abc")
	require.NoError(t, m.Put(ctx, "k", in))
	in[0] = 'x'
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "abc", string(got))
}

func TestGlobEscape(t *testing.T) {
	require.Equal(t, `agora:kv:a\*b\?`, globEscape("agora:kv:a*b?"))
}
