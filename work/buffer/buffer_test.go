package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetReturnsSizedBuffer(t *testing.T) {
	bp := NewBufferPool(1024)
	buf := bp.Get()
	assert.Len(t, buf.B, 1024)
	bp.Put(buf)

	again := bp.Get()
	assert.Len(t, again.B, 1024)
	bp.Put(again)
	bp.Put(nil)
}

func TestDefaultSize(t *testing.T) {
	assert.Len(t, NewBufferPool(0).Get().B, DefaultCopySize)
}
