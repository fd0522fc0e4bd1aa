package helpers

import (
	"bytes"
	"expvar"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatReader(t *testing.T) {
	t.Parallel()
	var counter expvar.Int
	s := NewStatReader(strings.NewReader(strings.Repeat(".", 1024)), &counter, 0)
	buf := make([]byte, 17)
	_, _ = s.Read(buf[:0])
	assert.Equal(t, int64(0), counter.Value())
	_, _ = s.Read(buf[:5])
	assert.Equal(t, int64(5), counter.Value())
	_, _ = s.Read(buf)
	assert.Equal(t, int64(22), counter.Value())
}

func TestStatWriter(t *testing.T) {
	t.Parallel()
	var counter expvar.Int
	s := NewStatWriter(bytes.NewBuffer(nil), &counter, 0)
	buf := make([]byte, 17)
	_, _ = s.Write(buf[:0])
	assert.Equal(t, int64(0), counter.Value())
	_, _ = s.Write(buf[:5])
	assert.Equal(t, int64(5), counter.Value())
	_, _ = s.Write(buf)
	assert.Equal(t, int64(22), counter.Value())
}

func TestStatFixOverhead(t *testing.T) {
	t.Parallel()
	var counter expvar.Int
	s := NewStatWriter(bytes.NewBuffer(nil), &counter, 40)
	_, _ = s.Write(make([]byte, 10))
	_, _ = s.Write(make([]byte, 10))
	// 2 writes of 10 bytes, 40 overhead each
	assert.Equal(t, int64(100), counter.Value())
}
