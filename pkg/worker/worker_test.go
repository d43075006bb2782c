package worker_test

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/embersky/xrpc-client/internal/testutil"
	"github.com/embersky/xrpc-client/pkg/auth"
	"github.com/embersky/xrpc-client/pkg/bsky/actor"
	"github.com/embersky/xrpc-client/pkg/client"
	"github.com/embersky/xrpc-client/pkg/dispatch"
	"github.com/embersky/xrpc-client/pkg/worker"
	"github.com/embersky/xrpc-client/pkg/xrpc"
)

var (
	_ dispatch.Dispatcher = (*worker.Port)(nil)
	_ dispatch.Dispatcher = (*worker.RemotePort)(nil)
	_ worker.Sender       = (*client.Client)(nil)
)

// fakeSender records exchanges. While held, Send blocks until Release or
// until its context is cancelled.
type fakeSender struct {
	mu     sync.Mutex
	gate   chan struct{}
	creds  []auth.Credential
	answer func(d xrpc.Descriptor) (*xrpc.Response, error)

	calls     atomic.Int32
	cancelled atomic.Int32
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		answer: func(d xrpc.Descriptor) (*xrpc.Response, error) {
			return &xrpc.Response{
				Operation:  d.Operation(),
				StatusCode: http.StatusOK,
				Header:     http.Header{"Content-Type": {"application/json"}},
				Body:       []byte(`{"did":"did:plc:alice","handle":"alice.bsky.social"}`),
			}, nil
		},
	}
}

func (s *fakeSender) Hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
}

func (s *fakeSender) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

func (s *fakeSender) Send(ctx context.Context, d xrpc.Descriptor, cred auth.Credential) (*xrpc.Response, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.creds = append(s.creds, cred)
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			s.cancelled.Add(1)
			return nil, &xrpc.NetworkError{Operation: d.Operation(), Err: ctx.Err()}
		}
	}
	return s.answer(d)
}

func (s *fakeSender) Credentials() []auth.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]auth.Credential(nil), s.creds...)
}

func newWorker(t *testing.T, sender worker.Sender, cfg worker.Config) *worker.Worker {
	t.Helper()
	w := worker.New(context.Background(), sender, cfg)
	t.Cleanup(w.Close)
	return w
}

func waitStats(t *testing.T, w *worker.Worker, cond func(worker.Stats) bool) {
	t.Helper()
	ok := testutil.WaitFor(2*time.Second, func() bool {
		s, err := w.Stats(context.Background())
		return err == nil && cond(s)
	})
	require.True(t, ok, "worker never reached the expected state")
}

type outcome struct {
	resp *xrpc.Response
	err  error
}

func dispatchAsync(ctx context.Context, p dispatch.Dispatcher, d xrpc.Descriptor) <-chan outcome {
	ch := make(chan outcome, 1)
	go func() {
		resp, err := p.Dispatch(ctx, d)
		ch <- outcome{resp, err}
	}()
	return ch
}

func receive(t *testing.T, ch <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not complete")
		return outcome{}
	}
}

func TestWorker_CoalescesIdenticalRequests(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sender := newFakeSender()
	sender.Hold()
	w := worker.New(context.Background(), sender, worker.Config{})
	defer w.Close()

	tabA, tabB := w.Connect("tab-a"), w.Connect("tab-b")
	d, err := actor.GetProfile("alice.bsky.social")
	require.NoError(t, err)

	a := dispatchAsync(context.Background(), tabA, d)
	b := dispatchAsync(context.Background(), tabB, d)
	waitStats(t, w, func(s worker.Stats) bool { return s.Waiters == 2 })

	sender.Release()
	ra, rb := receive(t, a), receive(t, b)

	require.NoError(t, ra.err)
	require.NoError(t, rb.err)
	assert.Equal(t, ra.resp.Body, rb.resp.Body)
	assert.EqualValues(t, 1, sender.calls.Load(), "identical requests must share one exchange")

	stats, err := w.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Coalesced)
	assert.EqualValues(t, 1, stats.Exchanges)
	assert.Zero(t, stats.InFlight)
	assert.Equal(t, map[string]int{"tab-a": 1, "tab-b": 1}, stats.Ports)
}

func TestWorker_SameErrorForEveryWaiter(t *testing.T) {
	sender := newFakeSender()
	sender.answer = func(d xrpc.Descriptor) (*xrpc.Response, error) {
		return nil, xrpc.NewHTTPStatusError(d.Operation(), http.StatusBadGateway, []byte(`{"error":"UpstreamFailure"}`))
	}
	sender.Hold()
	w := newWorker(t, sender, worker.Config{})
	port := w.Connect("main")

	d, err := actor.SearchActors("alice")
	require.NoError(t, err)

	a := dispatchAsync(context.Background(), port, d)
	b := dispatchAsync(context.Background(), port, d)
	waitStats(t, w, func(s worker.Stats) bool { return s.Waiters == 2 })
	sender.Release()

	ra, rb := receive(t, a), receive(t, b)
	var ha, hb *xrpc.HTTPStatusError
	require.ErrorAs(t, ra.err, &ha)
	require.ErrorAs(t, rb.err, &hb)
	assert.Equal(t, ha, hb)
	assert.Equal(t, "UpstreamFailure", ha.Name)
	assert.EqualValues(t, 1, sender.calls.Load())
}

func TestWorker_ResponsesAreIndependentCopies(t *testing.T) {
	sender := newFakeSender()
	sender.Hold()
	w := newWorker(t, sender, worker.Config{})
	port := w.Connect("main")

	d, err := actor.GetProfile("alice.bsky.social")
	require.NoError(t, err)

	a := dispatchAsync(context.Background(), port, d)
	b := dispatchAsync(context.Background(), port, d)
	waitStats(t, w, func(s worker.Stats) bool { return s.Waiters == 2 })
	sender.Release()

	ra, rb := receive(t, a), receive(t, b)
	require.NoError(t, ra.err)
	require.NoError(t, rb.err)

	ra.resp.Body[0] = 'X'
	ra.resp.Header.Set("Content-Type", "text/plain")
	assert.Equal(t, byte('{'), rb.resp.Body[0])
	assert.Equal(t, "application/json", rb.resp.Header.Get("Content-Type"))
}

func TestWorker_CancellationIndependence(t *testing.T) {
	sender := newFakeSender()
	sender.Hold()
	w := newWorker(t, sender, worker.Config{})
	tabA, tabB := w.Connect("tab-a"), w.Connect("tab-b")

	d, err := actor.GetProfile("alice.bsky.social")
	require.NoError(t, err)

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	a := dispatchAsync(ctxA, tabA, d)
	b := dispatchAsync(context.Background(), tabB, d)
	waitStats(t, w, func(s worker.Stats) bool { return s.Waiters == 2 })

	cancelA()
	ra := receive(t, a)
	assert.ErrorIs(t, ra.err, xrpc.ErrNetwork)
	assert.ErrorIs(t, ra.err, context.Canceled)
	waitStats(t, w, func(s worker.Stats) bool { return s.Waiters == 1 && s.Abandoned == 1 })

	sender.Release()
	rb := receive(t, b)
	require.NoError(t, rb.err, "remaining waiter must still receive the result")
	assert.Zero(t, sender.cancelled.Load(), "exchange must not be cancelled while someone waits")
	assert.EqualValues(t, 1, sender.calls.Load())
}

func TestWorker_SoleWaiterCancelsExchange(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sender := newFakeSender()
	sender.Hold()
	w := worker.New(context.Background(), sender, worker.Config{})
	defer w.Close()
	port := w.Connect("main")

	d, err := actor.GetSuggestions()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	a := dispatchAsync(ctx, port, d)
	waitStats(t, w, func(s worker.Stats) bool { return s.InFlight == 1 })

	cancel()
	ra := receive(t, a)
	assert.ErrorIs(t, ra.err, context.Canceled)

	assert.True(t, testutil.WaitFor(2*time.Second, func() bool { return sender.cancelled.Load() == 1 }),
		"exchange with no remaining waiter must be cancelled")
	waitStats(t, w, func(s worker.Stats) bool { return s.InFlight == 0 && s.Cancelled == 1 })
}

func TestWorker_NewRequestAfterCancelledExchange(t *testing.T) {
	sender := newFakeSender()
	sender.Hold()
	w := newWorker(t, sender, worker.Config{})
	port := w.Connect("main")

	d, err := actor.GetProfile("alice.bsky.social")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	a := dispatchAsync(ctx, port, d)
	waitStats(t, w, func(s worker.Stats) bool { return s.InFlight == 1 })
	cancel()
	receive(t, a)
	waitStats(t, w, func(s worker.Stats) bool { return s.InFlight == 0 })

	sender.Release()
	resp, err := port.Dispatch(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, sender.calls.Load())
}

func TestWorker_AuthGating(t *testing.T) {
	sender := newFakeSender()
	w := newWorker(t, sender, worker.Config{})
	port := w.Connect("main")

	d, err := actor.GetPreferences()
	require.NoError(t, err)

	_, err = port.Dispatch(context.Background(), d)
	var authErr *xrpc.AuthRequiredError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, actor.OpGetPreferences, authErr.Operation)
	assert.ErrorIs(t, err, auth.ErrNoCredential)
	assert.Zero(t, sender.calls.Load(), "no exchange without a credential")
}

func TestWorker_UsesWorkerCredential(t *testing.T) {
	sender := newFakeSender()
	w := newWorker(t, sender, worker.Config{Credentials: auth.Static("worker-token", "did:plc:worker")})
	port := w.Connect("main")

	d, err := actor.GetPreferences()
	require.NoError(t, err)

	_, err = port.Dispatch(context.Background(), d)
	require.NoError(t, err)
	require.Len(t, sender.Credentials(), 1)
	assert.Equal(t, "worker-token", sender.Credentials()[0].Token)
}

func TestWorker_PortCredentialsOverride(t *testing.T) {
	sender := newFakeSender()
	w := newWorker(t, sender, worker.Config{Credentials: auth.Static("worker-token", "did:plc:worker")})
	port := w.Connect("tab", worker.WithCredentials(auth.Static("tab-token", "did:plc:tab")))

	d, err := actor.GetPreferences()
	require.NoError(t, err)

	_, err = port.Dispatch(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "tab-token", sender.Credentials()[0].Token)
}

func TestWorker_DistinctIdentitiesDoNotCoalesce(t *testing.T) {
	sender := newFakeSender()
	sender.Hold()
	w := newWorker(t, sender, worker.Config{})
	alice := w.Connect("alice", worker.WithCredentials(auth.Static("a", "did:plc:alice")))
	bob := w.Connect("bob", worker.WithCredentials(auth.Static("b", "did:plc:bob")))

	d, err := actor.GetPreferences()
	require.NoError(t, err)

	a := dispatchAsync(context.Background(), alice, d)
	b := dispatchAsync(context.Background(), bob, d)
	waitStats(t, w, func(s worker.Stats) bool { return s.InFlight == 2 })
	sender.Release()

	require.NoError(t, receive(t, a).err)
	require.NoError(t, receive(t, b).err)
	assert.EqualValues(t, 2, sender.calls.Load())
}

func TestWorker_DifferentParametersDoNotCoalesce(t *testing.T) {
	sender := newFakeSender()
	sender.Hold()
	w := newWorker(t, sender, worker.Config{})
	port := w.Connect("main")

	first, err := actor.SearchActors("alice")
	require.NoError(t, err)
	second, err := actor.SearchActors("alice", actor.WithLimit(50))
	require.NoError(t, err)

	a := dispatchAsync(context.Background(), port, first)
	b := dispatchAsync(context.Background(), port, second)
	waitStats(t, w, func(s worker.Stats) bool { return s.InFlight == 2 })
	sender.Release()

	require.NoError(t, receive(t, a).err)
	require.NoError(t, receive(t, b).err)
	assert.EqualValues(t, 2, sender.calls.Load())
}

func TestWorker_MutationsNeverCoalesce(t *testing.T) {
	sender := newFakeSender()
	sender.Hold()
	w := newWorker(t, sender, worker.Config{Credentials: auth.Static("t", "did:plc:me")})
	port := w.Connect("main")

	d, err := actor.PutPreferences(actor.PreferencesInput{})
	require.NoError(t, err)

	a := dispatchAsync(context.Background(), port, d)
	b := dispatchAsync(context.Background(), port, d)
	waitStats(t, w, func(s worker.Stats) bool { return s.InFlight == 2 })
	sender.Release()

	require.NoError(t, receive(t, a).err)
	require.NoError(t, receive(t, b).err)
	assert.EqualValues(t, 2, sender.calls.Load())
}

func TestWorker_ClosedWorkerRejects(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sender := newFakeSender()
	w := worker.New(context.Background(), sender, worker.Config{})
	port := w.Connect("main")
	w.Close()

	d, err := actor.GetProfile("alice.bsky.social")
	require.NoError(t, err)

	_, err = port.Dispatch(context.Background(), d)
	assert.ErrorIs(t, err, xrpc.ErrNetwork)
	assert.ErrorIs(t, err, worker.ErrClosed)
	assert.Equal(t, actor.OpGetProfile, xrpc.OperationOf(err))

	_, err = w.Stats(context.Background())
	assert.ErrorIs(t, err, worker.ErrClosed)

	port.Close()
	w.Close()
}

func TestWorker_CloseReleasesWaiters(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sender := newFakeSender()
	sender.Hold()
	w := worker.New(context.Background(), sender, worker.Config{})
	port := w.Connect("main")

	d, err := actor.GetProfile("alice.bsky.social")
	require.NoError(t, err)

	a := dispatchAsync(context.Background(), port, d)
	waitStats(t, w, func(s worker.Stats) bool { return s.InFlight == 1 })

	w.Close()
	ra := receive(t, a)
	assert.ErrorIs(t, ra.err, worker.ErrClosed)
	assert.EqualValues(t, 1, sender.cancelled.Load(), "closing must cancel in-flight exchanges")
}

func TestWorker_StopsWithParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := worker.New(ctx, newFakeSender(), worker.Config{})
	defer w.Close()

	cancel()
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop with its parent context")
	}
}

func TestWorker_PortDisconnect(t *testing.T) {
	w := newWorker(t, newFakeSender(), worker.Config{})
	a := w.Connect("tab")
	b := w.Connect("tab")
	waitStats(t, w, func(s worker.Stats) bool { return s.Ports["tab"] == 2 })

	a.Close()
	a.Close()
	waitStats(t, w, func(s worker.Stats) bool { return s.Ports["tab"] == 1 })
	b.Close()
	waitStats(t, w, func(s worker.Stats) bool { return len(s.Ports) == 0 })
}

func TestWorker_ManyConcurrentCallers(t *testing.T) {
	sender := newFakeSender()
	sender.Hold()
	w := newWorker(t, sender, worker.Config{MailboxSize: 4})
	port := w.Connect("main")

	d, err := actor.GetProfile("alice.bsky.social")
	require.NoError(t, err)

	const callers = 50
	results := make([]<-chan outcome, callers)
	for i := range results {
		results[i] = dispatchAsync(context.Background(), port, d)
	}
	waitStats(t, w, func(s worker.Stats) bool { return s.Waiters == callers })
	sender.Release()

	for _, ch := range results {
		require.NoError(t, receive(t, ch).err)
	}
	assert.EqualValues(t, 1, sender.calls.Load())
}

// Both strategies return the same payloads and the same error shapes.
func TestWorker_MatchesDirectStrategy(t *testing.T) {
	mock := testutil.NewMockXRPC()
	defer mock.Close()
	mock.SetJSON(actor.OpGetProfile, map[string]string{"did": "did:plc:alice", "handle": "alice.bsky.social"})
	mock.SetResponse(actor.OpSearchActors, testutil.NewErrorResponse(http.StatusBadRequest, "InvalidRequest", "bad query"))
	mock.SetResponse(actor.OpSearchActorsTypeahead, testutil.NewHealthyResponse(`not json`))

	cfg := client.DefaultConfig("worker-test/1.0")
	cfg.BaseURL = mock.URL()
	c, err := client.New(cfg)
	require.NoError(t, err)
	defer c.Close()

	direct := dispatch.NewDirect(c)
	w := newWorker(t, c, worker.Config{})
	delegated := w.Connect("main")

	build := []func() (xrpc.Descriptor, error){
		func() (xrpc.Descriptor, error) { return actor.GetProfile("alice.bsky.social") },
		func() (xrpc.Descriptor, error) { return actor.SearchActors("bad") },
		func() (xrpc.Descriptor, error) { return actor.SearchActorsTypeahead("al") },
		actor.GetPreferences,
	}

	for _, b := range build {
		d, err := b()
		require.NoError(t, err)

		want, wantErr := direct.Dispatch(context.Background(), d)
		got, gotErr := delegated.Dispatch(context.Background(), d)

		assert.Equal(t, xrpc.Kind(wantErr), xrpc.Kind(gotErr), d.Operation())
		assert.Equal(t, xrpc.OperationOf(wantErr), xrpc.OperationOf(gotErr), d.Operation())
		if wantErr == nil {
			require.NoError(t, gotErr)
			assert.Equal(t, want.StatusCode, got.StatusCode)
			assert.JSONEq(t, string(want.Body), string(got.Body))
		}
	}
}

// slowSecondProvider answers the first lookup at once and blocks every later
// lookup until release is closed.
func slowSecondProvider(principal string, release <-chan struct{}) (auth.Provider, *atomic.Int32) {
	var lookups atomic.Int32
	return auth.ProviderFunc(func(ctx context.Context) (auth.Credential, error) {
		if lookups.Add(1) > 1 {
			select {
			case <-release:
			case <-ctx.Done():
				return auth.Credential{}, ctx.Err()
			}
		}
		return auth.Credential{Token: "token-" + principal, Principal: principal}, nil
	}), &lookups
}

func TestWorker_CoalescesWhileCredentialResolves(t *testing.T) {
	sender := newFakeSender()
	sender.Hold()
	release := make(chan struct{})
	creds, lookups := slowSecondProvider("did:plc:alice", release)
	w := newWorker(t, sender, worker.Config{Credentials: creds})
	port := w.Connect("main")

	d, err := actor.GetPreferences()
	require.NoError(t, err)

	first := dispatchAsync(context.Background(), port, d)
	waitStats(t, w, func(s worker.Stats) bool { return s.Waiters == 1 })

	// Issued while the first exchange is in flight; its lookup outlasts it.
	second := dispatchAsync(context.Background(), port, d)
	waitStats(t, w, func(s worker.Stats) bool { return s.Pending == 1 })

	sender.Release()
	ra := receive(t, first)
	require.NoError(t, ra.err)
	waitStats(t, w, func(s worker.Stats) bool { return s.InFlight == 0 })

	close(release)
	rb := receive(t, second)
	require.NoError(t, rb.err)

	assert.Equal(t, ra.resp.Body, rb.resp.Body)
	assert.EqualValues(t, 2, lookups.Load())
	assert.EqualValues(t, 1, sender.calls.Load(), "request issued during the exchange must not trigger another")

	rb.resp.Body[0] = 'X'
	assert.NotEqual(t, ra.resp.Body[0], rb.resp.Body[0], "late waiter receives its own copy")

	stats, err := w.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Exchanges)
	assert.EqualValues(t, 1, stats.Coalesced)
	assert.Zero(t, stats.Pending)
}

func TestWorker_SettledOutcomeKeepsIdentities(t *testing.T) {
	sender := newFakeSender()
	release := make(chan struct{})
	bobCreds, _ := slowSecondProvider("did:plc:bob", release)
	w := newWorker(t, sender, worker.Config{})
	alice := w.Connect("alice", worker.WithCredentials(auth.Static("a", "did:plc:alice")))
	bob := w.Connect("bob", worker.WithCredentials(bobCreds))

	d, err := actor.GetPreferences()
	require.NoError(t, err)

	// Use up bob's fast lookup so the next one blocks.
	_, err = bob.Dispatch(context.Background(), d)
	require.NoError(t, err)
	sender.Hold()

	a := dispatchAsync(context.Background(), alice, d)
	waitStats(t, w, func(s worker.Stats) bool { return s.Waiters == 1 })
	b := dispatchAsync(context.Background(), bob, d)
	waitStats(t, w, func(s worker.Stats) bool { return s.Pending == 1 })

	sender.Release()
	require.NoError(t, receive(t, a).err)
	waitStats(t, w, func(s worker.Stats) bool { return s.InFlight == 0 })

	close(release)
	require.NoError(t, receive(t, b).err)
	assert.EqualValues(t, 3, sender.calls.Load(), "different accounts never share an outcome")
	assert.Equal(t, "a", sender.Credentials()[1].Token)
	assert.Equal(t, "token-did:plc:bob", sender.Credentials()[2].Token)
}

func TestWorker_LateRequestAfterAbandonedExchange(t *testing.T) {
	sender := newFakeSender()
	sender.Hold()
	release := make(chan struct{})
	creds, _ := slowSecondProvider("did:plc:alice", release)
	w := newWorker(t, sender, worker.Config{Credentials: creds})
	port := w.Connect("main")

	d, err := actor.GetPreferences()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	first := dispatchAsync(ctx, port, d)
	waitStats(t, w, func(s worker.Stats) bool { return s.Waiters == 1 })
	second := dispatchAsync(context.Background(), port, d)
	waitStats(t, w, func(s worker.Stats) bool { return s.Pending == 1 })

	cancel()
	assert.ErrorIs(t, receive(t, first).err, context.Canceled)
	waitStats(t, w, func(s worker.Stats) bool { return s.Cancelled == 1 && s.InFlight == 0 })

	sender.Release()
	close(release)
	require.NoError(t, receive(t, second).err, "a cancelled exchange is never handed to later requests")
	assert.EqualValues(t, 2, sender.calls.Load())
}
