package helpers

import (
	"expvar"
	"io"
)

// StatReader counts bytes flowing through an io.Reader. The expvar.Int
// is used as an atomic counter, registering it is the caller's choice.
// fix is added on every Read call to approximate framing overhead.
type StatReader struct {
	r   io.Reader
	v   *expvar.Int
	fix int64
}

var _ io.Reader = &StatReader{}

func NewStatReader(r io.Reader, v *expvar.Int, fix int64) *StatReader {
	return &StatReader{r: r, v: v, fix: fix}
}

func (sr *StatReader) Read(p []byte) (n int, err error) {
	n, err = sr.r.Read(p)
	sr.v.Add(int64(n) + sr.fix)
	return
}

type StatWriter struct {
	w   io.Writer
	v   *expvar.Int
	fix int64
}

var _ io.Writer = &StatWriter{}

func NewStatWriter(w io.Writer, v *expvar.Int, fix int64) *StatWriter {
	return &StatWriter{w: w, v: v, fix: fix}
}

func (sw *StatWriter) Write(p []byte) (n int, err error) {
	n, err = sw.w.Write(p)
	sw.v.Add(int64(n) + sw.fix)
	return
}
