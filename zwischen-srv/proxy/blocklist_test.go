package proxy

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlockListAddRemove(t *testing.T) {
	bl := NewBlockList()
	assert.False(t, bl.Contains("http://blocked.test/"))
	assert.Equal(t, 0, bl.Len())

	bl.Add("http://blocked.test/")
	assert.True(t, bl.Contains("http://blocked.test/"))
	assert.Equal(t, 1, bl.Len())

	// Adding twice keeps a single entry
	bl.Add("http://blocked.test/")
	assert.Equal(t, 1, bl.Len())

	bl.Remove("http://blocked.test/")
	assert.False(t, bl.Contains("http://blocked.test/"))

	// Removing an absent target is a no-op
	bl.Remove("http://never.test/")
	assert.Equal(t, 0, bl.Len())
}

func TestBlockListInitial(t *testing.T) {
	bl := NewBlockList("http://a.test/", "http://b.test/")
	assert.True(t, bl.Contains("http://a.test/"))
	assert.True(t, bl.Contains("http://b.test/"))
	assert.False(t, bl.Contains("http://c.test/"))

	snapshot := bl.Snapshot()
	assert.ElementsMatch(t, []string{"http://a.test/", "http://b.test/"}, snapshot)
}

func TestBlockListConcurrentAccess(t *testing.T) {
	bl := NewBlockList()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			bl.Add(fmt.Sprintf("http://host%d.test/", i))
		}(i)
		go func(i int) {
			defer wg.Done()
			bl.Contains(fmt.Sprintf("http://host%d.test/", i))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, bl.Len())
}
