package exchange

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// Capture is one token endpoint round trip as it went over the wire.
type Capture struct {
	Method      string
	URL         string
	RequestBody []byte
	StatusCode  int
	Headers     http.Header
	Body        []byte
}

// capturingTransport records the last request/response pair it carried so the
// raw token response stays available even when the oauth2 client rejects it.
type capturingTransport struct {
	base    http.RoundTripper
	mu      sync.Mutex
	capture *Capture
}

func newCapturingTransport(base http.RoundTripper) *capturingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &capturingTransport{base: base}
}

func (t *capturingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c := &Capture{Method: req.Method, URL: req.URL.String()}
	if req.Body != nil && req.GetBody != nil {
		if rc, err := req.GetBody(); err == nil {
			c.RequestBody, _ = io.ReadAll(rc)
			rc.Close()
		}
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		t.store(nil)
		return nil, err
	}

	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		t.store(nil)
		return nil, readErr
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	c.StatusCode = resp.StatusCode
	c.Headers = resp.Header.Clone()
	c.Body = body
	t.store(c)
	return resp, nil
}

func (t *capturingTransport) store(c *Capture) {
	t.mu.Lock()
	t.capture = c
	t.mu.Unlock()
}

// LastCapture returns and clears the last captured round trip.
func (t *capturingTransport) LastCapture() *Capture {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.capture
	t.capture = nil
	return c
}
