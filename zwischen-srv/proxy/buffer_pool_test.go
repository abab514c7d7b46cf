package proxy

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPoolGetPut(t *testing.T) {
	pool := NewBufferPool(4096)
	buf := pool.Get()
	assert.Len(t, buf, 4096)
	assert.Equal(t, 4096, pool.Size())
	pool.Put(buf)

	// Foreign-sized buffers are rejected silently.
	pool.Put(make([]byte, 100))
	again := pool.Get()
	assert.Len(t, again, 4096)
}

func TestCopyBuffer(t *testing.T) {
	pool := NewBufferPool(512)
	src := strings.NewReader(strings.Repeat("z", 5000))
	var dst bytes.Buffer

	n, err := pool.copyBuffer(&dst, src)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), n)
	assert.Equal(t, 5000, dst.Len())
}
