package helpers

import "io"

// WriteAll retries short writes until b is fully sent. A writer that
// accepts nothing and reports no error would loop forever, that case
// turns into io.ErrShortWrite.
func WriteAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}
