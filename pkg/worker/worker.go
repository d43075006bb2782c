// Package worker implements the delegated dispatch strategy: one long-lived
// worker that performs XRPC exchanges on behalf of many callers.
//
// Callers hold a Port and talk to the worker only through its mailbox. The
// worker loop is the sole owner of in-flight exchanges, their waiters and the
// credential provider. Idempotent requests that share a coalescing key while
// one is in flight are served by a single exchange, and every waiter receives
// its own copy of the result. A waiter that gives up is removed; when the last
// waiter of an exchange gives up the exchange is cancelled.
//
// The coalescing key is the cache key of the request built with the identity
// of the resolved credential, so requests made as different accounts are
// never merged. A request that arrives while an exchange is in flight but is
// still resolving its credential when the exchange settles is matched
// against that outcome once its credential is known.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/embersky/xrpc-client/pkg/auth"
	"github.com/embersky/xrpc-client/pkg/cache"
	"github.com/embersky/xrpc-client/pkg/logging"
	"github.com/embersky/xrpc-client/pkg/xrpc"
)

// ErrClosed is wrapped in the NetworkError returned by a closed worker.
var ErrClosed = errors.New("worker closed")

// DefaultMailboxSize is the mailbox buffer used when Config leaves it unset.
const DefaultMailboxSize = 64

// Sender performs one exchange with an already resolved credential.
// *client.Client implements it.
type Sender interface {
	Send(ctx context.Context, d xrpc.Descriptor, cred auth.Credential) (*xrpc.Response, error)
}

// Config holds worker settings.
type Config struct {
	// Credentials is the provider used for ports that do not bring their own.
	Credentials auth.Provider

	// MailboxSize is the buffer of the worker mailbox.
	MailboxSize int
}

// Stats is a snapshot of the worker state.
type Stats struct {
	Ports      map[string]int `json:"ports"`
	InFlight   int            `json:"in_flight"`
	Waiters    int            `json:"waiters"`
	Pending    int            `json:"pending"`
	Dispatched uint64         `json:"dispatched"`
	Exchanges  uint64         `json:"exchanges"`
	Coalesced  uint64         `json:"coalesced"`
	Abandoned  uint64         `json:"abandoned"`
	Cancelled  uint64         `json:"cancelled"`
}

// flight is one network exchange and the waiters interested in it.
type flight struct {
	key     string
	base    string
	opened  uint64
	waiters map[uuid.UUID]*requestMsg
	cancel  context.CancelFunc
}

// settlement is the outcome of a flight kept for requests that arrived
// during the flight and were still resolving credentials when it settled.
type settlement struct {
	key  string
	resp *xrpc.Response
	err  error
}

// Worker is the shared execution context of the delegated strategy.
type Worker struct {
	sender  Sender
	creds   auth.Provider
	mailbox chan message
	logger  zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	stopped   chan struct{}
	closeOnce sync.Once
	tasks     sync.WaitGroup

	// Owned by run.
	flights map[string]*flight
	waiting map[uuid.UUID]*flight
	pending map[uuid.UUID]*requestMsg
	settled map[uuid.UUID][]*settlement
	ports   map[string]int
	seq     uint64
	totals  Stats
}

// New starts a worker that sends requests through sender. The worker stops
// when ctx is done or Close is called.
func New(ctx context.Context, sender Sender, cfg Config) *Worker {
	if sender == nil {
		panic("worker: sender cannot be nil")
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = DefaultMailboxSize
	}

	wctx, cancel := context.WithCancel(ctx)
	w := &Worker{
		sender:  sender,
		creds:   cfg.Credentials,
		mailbox: make(chan message, cfg.MailboxSize),
		logger:  logging.NewLogger(logging.ComponentWorker),
		ctx:     wctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
		flights: make(map[string]*flight),
		waiting: make(map[uuid.UUID]*flight),
		pending: make(map[uuid.UUID]*requestMsg),
		settled: make(map[uuid.UUID][]*settlement),
		ports:   make(map[string]int),
	}

	go w.run()
	return w
}

// Close stops the worker. Waiting callers receive ErrClosed and in-flight
// exchanges are cancelled. Close waits for every worker goroutine to exit.
func (w *Worker) Close() {
	w.closeOnce.Do(func() {
		w.cancel()
		<-w.stopped
		w.tasks.Wait()
		w.logger.Info().Msg("Worker stopped")
	})
}

// Done is closed once the worker loop has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.stopped
}

// Stats returns a snapshot of the worker state.
func (w *Worker) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := w.post(ctx, &statsMsg{reply: reply}); err != nil {
		return Stats{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-w.stopped:
		return Stats{}, ErrClosed
	}
}

// post delivers msg to the mailbox.
func (w *Worker) post(ctx context.Context, msg message) error {
	if w.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case w.mailbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stopped:
		return ErrClosed
	}
}

// notify delivers msg from a worker-owned goroutine. It gives up once the
// loop has exited.
func (w *Worker) notify(msg message) {
	select {
	case w.mailbox <- msg:
	case <-w.stopped:
	}
}

func (w *Worker) run() {
	defer close(w.stopped)

	w.logger.Info().Int("mailbox", cap(w.mailbox)).Msg("Worker started")

	for {
		select {
		case <-w.ctx.Done():
			w.shutdown()
			return
		case msg := <-w.mailbox:
			w.handle(msg)
		}
	}
}

func (w *Worker) handle(msg message) {
	switch m := msg.(type) {
	case *requestMsg:
		w.seq++
		m.seq = w.seq
		if m.desc.Idempotent() {
			m.base = cache.KeyFor(m.desc, "").String()
		}
		w.pending[m.id] = m
		w.totals.Dispatched++
		workerDispatchesTotal.WithLabelValues(m.port).Inc()
		w.tasks.Add(1)
		go w.intake(m)

	case *admittedMsg:
		req, ok := w.pending[m.id]
		if !ok {
			// Abandoned while its credential was resolved.
			return
		}
		delete(w.pending, m.id)
		if m.err != nil {
			delete(w.settled, m.id)
			req.reply <- result{err: m.err}
			return
		}
		w.join(req, m.cred)

	case *abandonMsg:
		w.abandon(m.id)

	case *settledMsg:
		w.settle(m)

	case *statsMsg:
		m.reply <- w.snapshot()

	case *portMsg:
		w.ports[m.name] += m.delta
		if w.ports[m.name] <= 0 {
			delete(w.ports, m.name)
		}
		workerPorts.Add(float64(m.delta))
	}
}

// intake resolves the credential for a request outside the loop.
func (w *Worker) intake(req *requestMsg) {
	defer w.tasks.Done()

	provider := req.creds
	if provider == nil {
		provider = w.creds
	}
	cred, err := auth.Resolve(w.ctx, provider, req.desc)
	w.notify(&admittedMsg{id: req.id, cred: cred, err: err})
}

// join attaches req to a matching flight or starts a new one.
func (w *Worker) join(req *requestMsg, cred auth.Credential) {
	key := cache.KeyFor(req.desc, cred.Identity()).String()
	if !req.desc.Idempotent() {
		key = "once:" + req.id.String()
	}
	late := w.takeSettled(req.id, key)

	if f, ok := w.flights[key]; ok {
		f.waiters[req.id] = req
		w.waiting[req.id] = f
		w.totals.Coalesced++
		workerCoalescedTotal.Inc()
		w.logger.Debug().
			Str("operation", req.desc.Operation()).
			Str("port", req.port).
			Int("waiters", len(f.waiters)).
			Msg("Joined in-flight request")
		return
	}

	if late != nil {
		req.reply <- result{resp: late.resp.Clone(), err: late.err}
		w.totals.Coalesced++
		workerCoalescedTotal.Inc()
		w.logger.Debug().
			Str("operation", req.desc.Operation()).
			Str("port", req.port).
			Msg("Served from request settled during credential resolution")
		return
	}

	ctx, cancel := context.WithCancel(w.ctx)
	f := &flight{
		key:     key,
		base:    req.base,
		opened:  req.seq,
		waiters: map[uuid.UUID]*requestMsg{req.id: req},
		cancel:  cancel,
	}
	w.flights[key] = f
	w.waiting[req.id] = f
	w.totals.Exchanges++
	workerExchangesTotal.Inc()
	workerInFlight.Inc()

	w.tasks.Add(1)
	go w.fly(ctx, f, req.desc, cred)
}

// takeSettled removes the settlements held for id and returns the one that
// matches key, if any.
func (w *Worker) takeSettled(id uuid.UUID, key string) *settlement {
	held := w.settled[id]
	delete(w.settled, id)
	for _, s := range held {
		if s.key == key {
			return s
		}
	}
	return nil
}

func (w *Worker) fly(ctx context.Context, f *flight, d xrpc.Descriptor, cred auth.Credential) {
	defer w.tasks.Done()
	resp, err := w.sender.Send(ctx, d, cred)
	w.notify(&settledMsg{flight: f, resp: resp, err: err})
}

func (w *Worker) abandon(id uuid.UUID) {
	if _, ok := w.pending[id]; ok {
		delete(w.pending, id)
		delete(w.settled, id)
		w.totals.Abandoned++
		workerAbandonedTotal.Inc()
		return
	}

	f, ok := w.waiting[id]
	if !ok {
		// Already settled.
		return
	}
	delete(w.waiting, id)
	delete(f.waiters, id)
	w.totals.Abandoned++
	workerAbandonedTotal.Inc()

	if len(f.waiters) > 0 {
		return
	}

	f.cancel()
	if w.flights[f.key] == f {
		delete(w.flights, f.key)
		workerInFlight.Dec()
	}
	w.totals.Cancelled++
	workerCancelledFlightsTotal.Inc()
	w.logger.Debug().Str("key", f.key).Msg("Cancelled request with no remaining waiters")
}

func (w *Worker) settle(m *settledMsg) {
	f := m.flight
	f.cancel()
	if w.flights[f.key] == f {
		delete(w.flights, f.key)
		workerInFlight.Dec()
	}
	if len(f.waiters) == 0 {
		// Cancelled after its last waiter left.
		return
	}

	for id, req := range f.waiters {
		req.reply <- result{resp: m.resp.Clone(), err: m.err}
		delete(w.waiting, id)
	}
	f.waiters = nil
	w.holdForPending(f, m)
}

// holdForPending keeps the outcome of f for requests with the same base key
// that arrived after f was opened and have not resolved a credential yet.
func (w *Worker) holdForPending(f *flight, m *settledMsg) {
	if f.base == "" {
		return
	}
	var s *settlement
	for id, req := range w.pending {
		if req.base != f.base || req.seq <= f.opened {
			continue
		}
		if s == nil {
			s = &settlement{key: f.key, resp: m.resp, err: m.err}
		}
		w.settled[id] = append(w.settled[id], s)
	}
}

func (w *Worker) shutdown() {
	clear(w.settled)
	for id, req := range w.pending {
		req.reply <- result{err: closedError(req.desc)}
		delete(w.pending, id)
	}
	for key, f := range w.flights {
		f.cancel()
		for id, req := range f.waiters {
			req.reply <- result{err: closedError(req.desc)}
			delete(w.waiting, id)
		}
		delete(w.flights, key)
		workerInFlight.Dec()
	}
	for name, n := range w.ports {
		workerPorts.Sub(float64(n))
		delete(w.ports, name)
	}
}

func (w *Worker) snapshot() Stats {
	s := w.totals
	s.Ports = make(map[string]int, len(w.ports))
	for name, n := range w.ports {
		s.Ports[name] = n
	}
	s.InFlight = len(w.flights)
	s.Waiters = len(w.waiting)
	s.Pending = len(w.pending)
	return s
}

func closedError(d xrpc.Descriptor) error {
	return &xrpc.NetworkError{Operation: d.Operation(), Err: ErrClosed}
}
