// Package dispatch is the boundary between request builders and the strategy
// that executes them.
//
// A Dispatcher accepts an xrpc.Descriptor and returns the response or a typed
// error from the xrpc taxonomy. Two strategies exist:
//
//   - direct: the caller's goroutine performs the exchange (Direct).
//   - delegated: a shared worker performs it and coalesces identical
//     in-flight requests (see package worker).
//
// Both produce the same responses and the same error types for the same
// descriptor.
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/embersky/xrpc-client/pkg/client"
	"github.com/embersky/xrpc-client/pkg/xrpc"
)

// Dispatcher executes request descriptors.
type Dispatcher interface {
	Dispatch(ctx context.Context, d xrpc.Descriptor) (*xrpc.Response, error)
}

// Func adapts a function to the Dispatcher interface.
type Func func(ctx context.Context, d xrpc.Descriptor) (*xrpc.Response, error)

// Dispatch calls f.
func (f Func) Dispatch(ctx context.Context, d xrpc.Descriptor) (*xrpc.Response, error) {
	return f(ctx, d)
}

// Strategy names an execution strategy.
type Strategy string

const (
	StrategyDirect    Strategy = "direct"
	StrategyDelegated Strategy = "delegated"
)

// ParseStrategy parses a strategy name. The empty string selects direct.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyDirect:
		return StrategyDirect, nil
	case StrategyDelegated:
		return StrategyDelegated, nil
	default:
		return "", fmt.Errorf("unknown dispatch strategy %q (want %q or %q)", s, StrategyDirect, StrategyDelegated)
	}
}

// Direct performs every exchange in the calling goroutine. Credentials come
// from the client's configured provider.
type Direct struct {
	client *client.Client
}

// NewDirect returns the direct strategy over c.
func NewDirect(c *client.Client) *Direct {
	return &Direct{client: c}
}

// Dispatch implements Dispatcher.
func (d *Direct) Dispatch(ctx context.Context, desc xrpc.Descriptor) (*xrpc.Response, error) {
	return d.client.Do(ctx, desc)
}

// Call dispatches desc and decodes the response body into T.
func Call[T any](ctx context.Context, disp Dispatcher, desc xrpc.Descriptor) (T, error) {
	resp, err := disp.Dispatch(ctx, desc)
	if err != nil {
		var zero T
		return zero, err
	}
	return xrpc.DecodeAs[T](resp)
}

// Result is the outcome of an asynchronous dispatch.
type Result struct {
	Response *xrpc.Response
	Err      error
}

// Async starts the dispatch in its own goroutine. The returned channel
// receives exactly one Result and is then closed. Cancelling ctx abandons the
// request.
func Async(ctx context.Context, disp Dispatcher, desc xrpc.Descriptor) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		resp, err := disp.Dispatch(ctx, desc)
		out <- Result{Response: resp, Err: err}
	}()
	return out
}
