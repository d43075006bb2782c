// Package testutil provides testing utilities for the XRPC client.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock XRPC operation response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockXRPC is a configurable mock XRPC server for testing.
//
// Handlers are registered per operation NSID. Hold makes every request block
// inside the server until Release is called, which lets tests observe how
// many exchanges were started while callers are still waiting.
type MockXRPC struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	gate     chan struct{}

	requestCount     int
	conditionalCount int
	cancelledCount   int
	perOperation     map[string]int
	lastHeader       http.Header
	lastQuery        map[string]string
}

// NewMockXRPC creates a new mock XRPC server.
func NewMockXRPC() *MockXRPC {
	mock := &MockXRPC{
		handlers:     make(map[string]http.HandlerFunc),
		perOperation: make(map[string]int),
		lastQuery:    make(map[string]string),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

func (m *MockXRPC) serve(w http.ResponseWriter, r *http.Request) {
	op, ok := strings.CutPrefix(r.URL.Path, "/xrpc/")
	if !ok || op == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "NotFound", "message": "not an xrpc path"})
		return
	}

	m.mu.Lock()
	m.requestCount++
	m.perOperation[op]++
	m.lastHeader = r.Header.Clone()
	m.lastQuery[op] = r.URL.RawQuery
	if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
		m.conditionalCount++
	}
	gate := m.gate
	handler, exists := m.handlers[op]
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			m.mu.Lock()
			m.cancelledCount++
			m.mu.Unlock()
			return
		}
	}

	if exists {
		handler(w, r)
		return
	}
	m.defaultHandler(w, r)
}

// URL returns the mock server URL.
func (m *MockXRPC) URL() string {
	return m.server.URL
}

// Client returns an HTTP client wired to the mock server.
func (m *MockXRPC) Client() *http.Client {
	return m.server.Client()
}

// Close releases held requests and shuts down the mock server.
func (m *MockXRPC) Close() {
	m.Release()
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockXRPC) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.conditionalCount = 0
	m.cancelledCount = 0
	m.perOperation = make(map[string]int)
	m.lastHeader = nil
	m.lastQuery = make(map[string]string)
}

// Hold makes subsequent requests wait until Release.
func (m *MockXRPC) Hold() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate == nil {
		m.gate = make(chan struct{})
	}
}

// Release lets held requests proceed.
func (m *MockXRPC) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
}

// SetHandler sets a custom handler for an operation.
func (m *MockXRPC) SetHandler(op string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[op] = handler
}

// SetResponse configures a simple response for an operation.
func (m *MockXRPC) SetResponse(op string, resp MockResponse) {
	m.SetHandler(op, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetJSON answers op with 200 and v encoded as JSON.
func (m *MockXRPC) SetJSON(op string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	m.SetResponse(op, NewHealthyResponse(string(data)))
}

// RequestCount returns the number of requests made to the server.
func (m *MockXRPC) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// OperationCount returns the number of requests made for op.
func (m *MockXRPC) OperationCount(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.perOperation[op]
}

// ConditionalCount returns the number of conditional requests.
func (m *MockXRPC) ConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conditionalCount
}

// CancelledCount returns the number of held requests whose client went away.
func (m *MockXRPC) CancelledCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cancelledCount
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockXRPC) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader.Clone()
}

// LastQuery returns the raw query string of the most recent request for op.
func (m *MockXRPC) LastQuery(op string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastQuery[op]
}

// WaitFor polls until cond holds or timeout elapses.
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// defaultHandler provides default XRPC-like responses.
func (m *MockXRPC) defaultHandler(w http.ResponseWriter, r *http.Request) {
	setQuotaHeaders(w.Header(), 2900)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if r.Header.Get("If-None-Match") != "" {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", `"default-etag"`)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{}`))
}

func setQuotaHeaders(h http.Header, remaining int) {
	h.Set("RateLimit-Limit", "3000")
	h.Set("RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("RateLimit-Reset", strconv.FormatInt(time.Now().Add(5*time.Minute).Unix(), 10))
	h.Set("RateLimit-Policy", "3000;w=300")
}

func quotaHeaders(remaining int) map[string]string {
	h := http.Header{}
	setQuotaHeaders(h, remaining)
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// NewHealthyResponse creates a standard 200 OK response with quota headers.
func NewHealthyResponse(data string) MockResponse {
	headers := quotaHeaders(2900)
	headers["ETag"] = `"test-etag-123"`
	headers["Content-Type"] = "application/json; charset=utf-8"
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers:    headers,
	}
}

// NewNotModifiedResponse creates a 304 Not Modified response.
func NewNotModifiedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotModified,
		Headers:    quotaHeaders(2900),
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response with an
// exhausted quota.
func NewRateLimitResponse() MockResponse {
	headers := quotaHeaders(0)
	headers["Content-Type"] = "application/json; charset=utf-8"
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error":"RateLimitExceeded","message":"Rate Limit Exceeded"}`,
		Headers:    headers,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return NewErrorResponse(http.StatusInternalServerError, "InternalServerError", "Internal Server Error")
}

// NewErrorResponse creates an XRPC error response.
func NewErrorResponse(status int, name, message string) MockResponse {
	headers := quotaHeaders(2900)
	headers["Content-Type"] = "application/json; charset=utf-8"
	body, _ := json.Marshal(map[string]string{"error": name, "message": message})
	return MockResponse{
		StatusCode: status,
		Body:       string(body),
		Headers:    headers,
	}
}

// NewConditionalHandler creates a handler that responds with 304 for conditional requests.
func NewConditionalHandler(etag string, data string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setQuotaHeaders(w.Header(), 2900)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")

		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(data))
	}
}
