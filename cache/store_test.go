package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func storesUnderTest() map[string]func(*testing.T, *clock) Store {
	return map[string]func(*testing.T, *clock) Store{
		"memory": func(_ *testing.T, c *clock) Store {
			s := NewMemoryStore()
			s.now = c.now

			return s
		},
		"sqlite": func(t *testing.T, c *clock) Store {
			s, err := OpenGormStore("sqlite", "")
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })

			s.now = c.now

			return s
		},
	}
}

func TestStores_SetGetExpire(t *testing.T) {
	for name, open := range storesUnderTest() {
		t.Run(name, func(t *testing.T) {
			c := &clock{t: time.Unix(1_700_000_000, 0)}
			s := open(t, c)

			_, ok, err := s.Get(t.Context(), "k")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Set(t.Context(), "k", []byte(`{"v":1}`), time.Second))

			v, ok, err := s.Get(t.Context(), "k")
			require.NoError(t, err)
			require.True(t, ok)
			assert.JSONEq(t, `{"v":1}`, string(v))

			// overwrite refreshes value and expiry
			c.advance(900 * time.Millisecond)
			require.NoError(t, s.Set(t.Context(), "k", []byte(`2`), time.Second))

			c.advance(900 * time.Millisecond)

			v, ok, err = s.Get(t.Context(), "k")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "2", string(v))

			c.advance(100 * time.Millisecond)

			_, ok, err = s.Get(t.Context(), "k")
			require.NoError(t, err)
			assert.False(t, ok, "entry must expire exactly at its TTL")
		})
	}
}

func TestStores_Delete(t *testing.T) {
	for name, open := range storesUnderTest() {
		t.Run(name, func(t *testing.T) {
			s := open(t, &clock{t: time.Unix(1_700_000_000, 0)})

			require.NoError(t, s.Set(t.Context(), "k", []byte("1"), time.Minute))
			require.NoError(t, s.Delete(t.Context(), "k"))
			require.NoError(t, s.Delete(t.Context(), "missing"))

			_, ok, err := s.Get(t.Context(), "k")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestMemoryStore_Sweep(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	s := NewMemoryStore()
	s.now = c.now

	require.NoError(t, s.Set(t.Context(), "short", []byte("1"), time.Second))
	require.NoError(t, s.Set(t.Context(), "long", []byte("1"), time.Hour))

	c.advance(time.Minute)

	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Len())
}

func TestGormStore_Purge(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}

	s, err := OpenGormStore("sqlite", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	s.now = c.now

	require.NoError(t, s.Set(t.Context(), "a", []byte("1"), time.Second))
	require.NoError(t, s.Set(t.Context(), "b", []byte("1"), time.Second))
	require.NoError(t, s.Set(t.Context(), "c", []byte("1"), time.Hour))

	c.advance(time.Minute)

	n, err := s.Purge(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestOpenGormStore_UnknownDriver(t *testing.T) {
	_, err := OpenGormStore("oracle", "dsn")
	require.Error(t, err)
}
