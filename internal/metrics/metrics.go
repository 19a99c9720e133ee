// Package metrics exposes Prometheus collectors fed from pool, orchestrator
// and mailbox events.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mbourmaud/conductor/internal/agent"
	"github.com/mbourmaud/conductor/internal/mailbox"
	"github.com/mbourmaud/conductor/internal/orchestrator"
	"github.com/mbourmaud/conductor/internal/runtime"
)

const namespace = "conductor"

var statuses = []agent.Status{
	agent.StatusInitializing,
	agent.StatusIdle,
	agent.StatusProcessing,
	agent.StatusPaused,
	agent.StatusComplete,
	agent.StatusError,
}

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	agents     *prometheus.GaugeVec
	pending    prometheus.Gauge
	leases     prometheus.Gauge
	queueDepth prometheus.Gauge
	spawns     *prometheus.CounterVec
	rollbacks  prometheus.Counter
	mailSent   prometheus.Counter
	cost       prometheus.Gauge

	mu         sync.Mutex
	workerCost float64
	orchCost   float64
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		agents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents",
			Help:      "Live agents by status.",
		}, []string{"status"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_agents",
			Help:      "Agents waiting on dependencies.",
		}),
		leases: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "leases_active",
			Help:      "Unexpired file claims.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_queue_depth",
			Help:      "Orchestrator tasks not yet started.",
		}),
		spawns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spawns_total",
			Help:      "Spawn attempts by result (started, queued, failed).",
		}, []string{"result"}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Work items rolled back to todo.",
		}),
		mailSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mail_sent_total",
			Help:      "Messages delivered to a mailbox.",
		}),
		cost: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Runtime spend of workers and the orchestrator in USD.",
		}),
	}

	m.registry.MustRegister(
		m.agents, m.pending, m.leases, m.queueDepth,
		m.spawns, m.rollbacks, m.mailSent, m.cost,
		collectors.NewGoCollector(),
	)
	for _, st := range statuses {
		m.agents.WithLabelValues(string(st)).Set(0)
	}
	return m
}

// Sources are live readings sampled on every scrape. Nil fields are skipped.
type Sources struct {
	StreamClients func() int
	LeaseWaiters  func() int
	QueuedEvents  func() int
	DroppedEvents func() int64
}

// Watch registers collectors that read src at scrape time.
func (m *Metrics) Watch(src Sources) error {
	var cs []prometheus.Collector
	if src.StreamClients != nil {
		cs = append(cs, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_stream_clients",
			Help:      "Clients attached to the event stream.",
		}, func() float64 { return float64(src.StreamClients()) }))
	}
	if src.LeaseWaiters != nil {
		cs = append(cs, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lease_waiters",
			Help:      "Strict claim requests blocked on a conflict.",
		}, func() float64 { return float64(src.LeaseWaiters()) }))
	}
	if src.QueuedEvents != nil {
		cs = append(cs, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "events_queued",
			Help:      "Lease and mailbox events awaiting their handler.",
		}, func() float64 { return float64(src.QueuedEvents()) }))
	}
	if src.DroppedEvents != nil {
		cs = append(cs, prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Lease and mailbox events discarded on a full queue.",
		}, func() float64 { return float64(src.DroppedEvents()) }))
	}

	var errs []error
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePool sets the gauges from a pool snapshot.
func (m *Metrics) ObservePool(st agent.PoolStatus) {
	counts := make(map[agent.Status]int, len(statuses))
	for _, a := range st.Agents {
		counts[a.Status]++
	}
	for _, s := range statuses {
		m.agents.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
	m.pending.Set(float64(len(st.Pending)))
	m.leases.Set(float64(len(st.Leases)))

	m.mu.Lock()
	m.workerCost = st.TotalCostUSD
	m.cost.Set(m.workerCost + m.orchCost)
	m.mu.Unlock()
}

// ObserveAgent handles one pool event.
func (m *Metrics) ObserveAgent(ev agent.Event) {
	switch ev.Type {
	case agent.EventPool:
		if ev.Pool != nil {
			m.ObservePool(*ev.Pool)
		}
	case agent.EventSpawned:
		m.spawns.WithLabelValues("started").Inc()
	case agent.EventWaiting:
		m.spawns.WithLabelValues("queued").Inc()
	}
}

// ObserveOrchestrator handles one orchestrator event.
func (m *Metrics) ObserveOrchestrator(ev orchestrator.Event) {
	switch ev.Type {
	case orchestrator.EventTask, orchestrator.EventMessage:
		m.queueDepth.Set(float64(ev.QueueDepth))
	case orchestrator.EventSpawn:
		if !ev.Success {
			m.spawns.WithLabelValues("failed").Inc()
		}
	case orchestrator.EventRollback:
		if ev.Success {
			m.rollbacks.Inc()
		}
	case orchestrator.EventOutput:
		if ev.Output != nil && ev.Output.Kind == runtime.KindCompletion && ev.Output.Completion != nil {
			m.mu.Lock()
			m.orchCost += ev.Output.Completion.CostUSD
			m.cost.Set(m.workerCost + m.orchCost)
			m.mu.Unlock()
		}
	}
}

// ObserveMail counts deliveries. It satisfies mailbox.EventHandler.
func (m *Metrics) ObserveMail(ev mailbox.Event) {
	if ev.Type == mailbox.EventReceived {
		m.mailSent.Inc()
	}
}

// Run feeds the collectors until ctx is done or both channels are closed.
func (m *Metrics) Run(ctx context.Context, pool <-chan agent.Event, orch <-chan orchestrator.Event) {
	for pool != nil || orch != nil {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-pool:
			if !ok {
				pool = nil
				continue
			}
			m.ObserveAgent(ev)
		case ev, ok := <-orch:
			if !ok {
				orch = nil
				continue
			}
			m.ObserveOrchestrator(ev)
		}
	}
}
