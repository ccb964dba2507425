package resultcache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/examforge/examforge/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache(t *testing.T) {
	t.Run("Should namespace keys by task", func(t *testing.T) {
		id := core.ID("2abc")
		assert.Equal(t, "task/2abc", Key(id))
	})

	t.Run("Should return a copy of the stored result", func(t *testing.T) {
		c := New(4, time.Minute)
		id := core.MustNewID()
		c.Put(id, "alice", json.RawMessage(`{"units":[]}`))
		got, ok := c.Get(id)
		require.True(t, ok)
		assert.Equal(t, "alice", got.OwnerID)
		got.Result[0] = '['
		again, _ := c.Get(id)
		assert.JSONEq(t, `{"units":[]}`, string(again.Result))
	})

	t.Run("Should ignore empty results", func(t *testing.T) {
		c := New(4, time.Minute)
		c.Put(core.MustNewID(), "alice", nil)
		assert.Equal(t, 0, c.Len())
	})

	t.Run("Should evict the least recently used entry beyond the size", func(t *testing.T) {
		c := New(2, time.Minute)
		a, b, d := core.MustNewID(), core.MustNewID(), core.MustNewID()
		c.Put(a, "o", json.RawMessage(`1`))
		c.Put(b, "o", json.RawMessage(`2`))
		_, _ = c.Get(a)
		c.Put(d, "o", json.RawMessage(`3`))
		_, okA := c.Get(a)
		_, okB := c.Get(b)
		assert.True(t, okA)
		assert.False(t, okB)
		assert.Equal(t, 2, c.Len())
	})

	t.Run("Should expire entries after the TTL", func(t *testing.T) {
		c := New(4, 20*time.Millisecond)
		id := core.MustNewID()
		c.Put(id, "o", json.RawMessage(`1`))
		assert.Eventually(t, func() bool {
			_, ok := c.Get(id)
			return !ok
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("Should drop an entry on evict", func(t *testing.T) {
		c := New(0, 0)
		id := core.MustNewID()
		c.Put(id, "o", json.RawMessage(`1`))
		c.Evict(id)
		_, ok := c.Get(id)
		assert.False(t, ok)
	})
}
