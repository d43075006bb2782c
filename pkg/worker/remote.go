package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/embersky/xrpc-client/pkg/logging"
	"github.com/embersky/xrpc-client/pkg/xrpc"
)

// RemotePort dispatches through a worker served by Handler in another
// process. It returns the same typed errors as a local Port.
type RemotePort struct {
	endpoint   string
	name       string
	httpClient *http.Client
	logger     zerolog.Logger
}

// RemoteOption configures a RemotePort.
type RemoteOption func(*RemotePort)

// WithHTTPClient replaces the HTTP client used to reach the worker.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(p *RemotePort) {
		p.httpClient = c
	}
}

// NewRemotePort connects to the worker at endpoint, e.g.
// "http://127.0.0.1:8090".
func NewRemotePort(endpoint, name string, opts ...RemoteOption) (*RemotePort, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse worker endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("worker endpoint must be an absolute http(s) url (got %q)", endpoint)
	}

	p := &RemotePort{
		endpoint:   strings.TrimRight(u.String(), "/"),
		name:       name,
		httpClient: &http.Client{},
		logger:     logging.NewLogger(logging.ComponentRemote).With().Str("port", name).Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the port name sent with every request.
func (p *RemotePort) Name() string {
	return p.name
}

// Close releases idle connections.
func (p *RemotePort) Close() {
	p.httpClient.CloseIdleConnections()
}

// Dispatch implements dispatch.Dispatcher.
func (p *RemotePort) Dispatch(ctx context.Context, d xrpc.Descriptor) (*xrpc.Response, error) {
	op := d.Operation()
	env := Envelope{ID: newID().String(), Port: p.name, Descriptor: d}

	payload, err := json.Marshal(env)
	if err != nil {
		return nil, &xrpc.NetworkError{Operation: op, Err: fmt.Errorf("encode envelope: %w", err)}
	}

	var reply Reply
	if err := p.exchange(ctx, http.MethodPost, "/dispatch", payload, &reply); err != nil {
		return nil, &xrpc.NetworkError{Operation: op, Err: err}
	}
	if reply.ID != env.ID {
		return nil, &xrpc.NetworkError{Operation: op, Err: fmt.Errorf("reply id %q does not match request %q", reply.ID, env.ID)}
	}
	if reply.Error != nil {
		return nil, reply.Error.Err()
	}
	if reply.Response == nil {
		return nil, &xrpc.NetworkError{Operation: op, Err: fmt.Errorf("empty reply from worker")}
	}
	return reply.Response.Response(), nil
}

// Stats fetches the remote worker's stats.
func (p *RemotePort) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	if err := p.exchange(ctx, http.MethodGet, "/stats", nil, &s); err != nil {
		return Stats{}, err
	}
	return s, nil
}

func (p *RemotePort) exchange(ctx context.Context, method, path string, body []byte, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.endpoint+path, r)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		p.logger.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("Worker endpoint error")
		return fmt.Errorf("worker endpoint %s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode worker reply: %w", err)
	}
	return nil
}
