package worker

import (
	"github.com/google/uuid"

	"github.com/embersky/xrpc-client/pkg/auth"
	"github.com/embersky/xrpc-client/pkg/xrpc"
)

// message is anything the worker loop accepts on its mailbox.
type message interface {
	isMessage()
}

type result struct {
	resp *xrpc.Response
	err  error
}

// requestMsg asks the worker to execute desc. The reply channel is buffered
// and receives exactly one result.
type requestMsg struct {
	id    uuid.UUID
	port  string
	desc  xrpc.Descriptor
	creds auth.Provider
	reply chan result

	// Set by the loop on arrival. base is the coalescing key without the
	// credential identity, empty for requests that never coalesce.
	seq  uint64
	base string
}

// admittedMsg reports the outcome of credential resolution for a request.
type admittedMsg struct {
	id   uuid.UUID
	cred auth.Credential
	err  error
}

// abandonMsg withdraws a waiter.
type abandonMsg struct {
	id uuid.UUID
}

// settledMsg carries the outcome of a network exchange.
type settledMsg struct {
	flight *flight
	resp   *xrpc.Response
	err    error
}

type statsMsg struct {
	reply chan Stats
}

// portMsg connects (delta 1) or disconnects (delta -1) a port.
type portMsg struct {
	name  string
	delta int
}

func (*requestMsg) isMessage()  {}
func (*admittedMsg) isMessage() {}
func (*abandonMsg) isMessage()  {}
func (*settledMsg) isMessage()  {}
func (*statsMsg) isMessage()    {}
func (*portMsg) isMessage()     {}

func newID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
