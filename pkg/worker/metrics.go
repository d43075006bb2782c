package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	workerDispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xrpc_worker_dispatches_total",
		Help: "Requests received by the shared worker by port",
	}, []string{"port"})

	workerExchangesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xrpc_worker_exchanges_total",
		Help: "Network exchanges started by the shared worker",
	})

	workerCoalescedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xrpc_worker_coalesced_total",
		Help: "Requests that joined an identical in-flight exchange",
	})

	workerAbandonedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xrpc_worker_abandoned_total",
		Help: "Waiters that gave up before their result arrived",
	})

	workerCancelledFlightsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xrpc_worker_cancelled_flights_total",
		Help: "In-flight exchanges cancelled because no waiter remained",
	})

	workerInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xrpc_worker_in_flight",
		Help: "Exchanges currently in flight",
	})

	workerPorts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xrpc_worker_ports",
		Help: "Ports currently connected to the worker",
	})
)
