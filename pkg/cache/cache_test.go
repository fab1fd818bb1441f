package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type endpoint struct {
	FspID string
	URL   string
}

func TestCache_PutAndGet(t *testing.T) {
	c := New[endpoint](2*time.Second, 0)
	key := "dfspa|FSPIOP_CALLBACK_URL_QUOTES"

	_, ok := c.Get(key)
	require.False(t, ok, "expected miss on empty cache")

	c.Put(key, endpoint{FspID: "dfspa", URL: "http://dfspa.local"})

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "http://dfspa.local", got.URL)
}

func TestCache_Expiration(t *testing.T) {
	c := New[string](50*time.Millisecond, 0)
	c.Put("k", "v")

	time.Sleep(80 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok, "expected expired cache entry")
}

func TestCache_Bust(t *testing.T) {
	c := New[string](5*time.Second, 0)
	c.Put("k", "v")
	c.Bust("k")

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCache_BoundedEvictsClosestToExpiry(t *testing.T) {
	c := New[int](time.Minute, 2)
	c.Put("first", 1)
	time.Sleep(2 * time.Millisecond)
	c.Put("second", 2)
	time.Sleep(2 * time.Millisecond)
	c.Put("third", 3)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("first")
	assert.False(t, ok, "oldest entry should have been evicted")
	v, ok := c.Get("third")
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestCache_OverwriteDoesNotEvict(t *testing.T) {
	c := New[int](time.Minute, 2)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("a", 10)

	assert.Equal(t, 2, c.Len())
	v, _ := c.Get("a")
	assert.Equal(t, 10, v)
}

func TestCache_CleanerRemovesExpired(t *testing.T) {
	c := New[string](10*time.Millisecond, 0)
	c.Put("k", "v")

	stop := make(chan struct{})
	go c.StartCleaner(5*time.Millisecond, stop)
	defer close(stop)

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New[int](time.Second, 50)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", (i*j)%80)
				c.Put(key, j)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
}
