package helpers

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAll(t *testing.T) {
	t.Parallel()
	content := []byte("12345678901234567890")

	t.Run("short-writes", func(t *testing.T) {
		buf := bytes.NewBuffer(nil)
		tw := &throttleWriter{w: buf, n: 7}
		n, err := tw.Write(content)
		require.NoError(t, err)
		assert.Equal(t, 7, n)
		buf.Reset()
		require.NoError(t, WriteAll(tw, content))
		assert.Equal(t, content, buf.Bytes())
	})

	t.Run("zero-write", func(t *testing.T) {
		err := WriteAll(&throttleWriter{w: io.Discard, n: 0}, content)
		assert.Equal(t, io.ErrShortWrite, err)
	})
}

// throttleWriter accepts at most n bytes per call.
type throttleWriter struct {
	w io.Writer
	n int
}

func (tw *throttleWriter) Write(p []byte) (int, error) {
	limit := len(p)
	if limit > tw.n {
		limit = tw.n
	}
	return tw.w.Write(p[:limit])
}
