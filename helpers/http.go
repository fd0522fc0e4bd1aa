package helpers

import (
	"bytes"
	"io"
	"net/http"
	"sync/atomic"
)

// MockHTTP is a http.RoundTripper returning canned responses.
// Fun takes priority, then Err, then Status/Body.
type MockHTTP struct {
	Fun    func(*http.Request) (*http.Response, error)
	Err    error
	Status int
	Body   []byte
	calls  int32
}

func (m *MockHTTP) Calls() int { return int(atomic.LoadInt32(&m.calls)) }

func (m *MockHTTP) RoundTrip(req *http.Request) (*http.Response, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.Fun != nil {
		return m.Fun(req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	status := m.Status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode:    status,
		Status:        http.StatusText(status),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		Body:          io.NopCloser(bytes.NewReader(m.Body)),
		ContentLength: int64(len(m.Body)),
		Request:       req,
	}, nil
}
