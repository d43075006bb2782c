package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/embersky/xrpc-client/pkg/auth"
	"github.com/embersky/xrpc-client/pkg/xrpc"
)

// Port is one caller's connection to a worker. It implements
// dispatch.Dispatcher. A Port is safe for concurrent use.
type Port struct {
	w     *Worker
	name  string
	creds auth.Provider

	closeOnce sync.Once
}

// PortOption configures a Port.
type PortOption func(*Port)

// WithCredentials makes the worker resolve this port's requests with p
// instead of the worker's provider.
func WithCredentials(p auth.Provider) PortOption {
	return func(port *Port) {
		port.creds = p
	}
}

// Connect opens a port named name. Names only label metrics and stats.
func (w *Worker) Connect(name string, opts ...PortOption) *Port {
	p := &Port{w: w, name: name}
	for _, opt := range opts {
		opt(p)
	}
	if err := w.post(context.Background(), &portMsg{name: name, delta: 1}); err != nil {
		w.logger.Debug().Str("port", name).Msg("Connected to a closed worker")
	}
	return p
}

// Name returns the port name.
func (p *Port) Name() string {
	return p.name
}

// Close disconnects the port. Requests already waiting are unaffected.
func (p *Port) Close() {
	p.closeOnce.Do(func() {
		_ = p.w.post(context.Background(), &portMsg{name: p.name, delta: -1})
	})
}

// Dispatch hands d to the worker and waits for its result. Cancelling ctx
// withdraws this caller only; the exchange keeps running while other callers
// wait for it.
func (p *Port) Dispatch(ctx context.Context, d xrpc.Descriptor) (*xrpc.Response, error) {
	op := d.Operation()
	req := &requestMsg{
		id:    newID(),
		port:  p.name,
		desc:  d,
		creds: p.creds,
		reply: make(chan result, 1),
	}

	if err := p.w.post(ctx, req); err != nil {
		if errors.Is(err, ErrClosed) {
			return nil, closedError(d)
		}
		return nil, &xrpc.NetworkError{Operation: op, Err: err}
	}

	select {
	case r := <-req.reply:
		return r.resp, r.err
	case <-ctx.Done():
		p.w.notify(&abandonMsg{id: req.id})
		return nil, &xrpc.NetworkError{Operation: op, Err: ctx.Err()}
	case <-p.w.stopped:
		// The loop answers everyone it knew about before exiting.
		select {
		case r := <-req.reply:
			return r.resp, r.err
		default:
			return nil, closedError(d)
		}
	}
}
